package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema for configuration validation
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MaxLength   *int                 `json:"maxLength,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

var recipientsProperty = &Property{
	Type:        "object",
	Description: "Who the message is addressed to",
	Properties: map[string]*Property{
		"type":     {Type: "string", Enum: []any{"target", "ids", "group", "all-active"}},
		"ids":      {Type: "array", Items: &Property{Type: "string", MinLength: intPtr(1)}},
		"group_id": {Type: "string"},
	},
	Required: []string{"type"},
}

var actionSchemas = map[ActionType]*JSONSchema{
	ActionSendEmail: {
		Type:  "object",
		Title: "Send email",
		Properties: map[string]*Property{
			"subject":        {Type: "string", MinLength: intPtr(1), Description: "Subject line, may contain placeholders"},
			"html":           {Type: "string"},
			"text":           {Type: "string"},
			"recipients":     recipientsProperty,
			"fail_on_reject": {Type: "boolean", Default: false},
		},
		Required: []string{"subject", "recipients"},
	},
	ActionSendSMS: {
		Type:  "object",
		Title: "Send SMS",
		Properties: map[string]*Property{
			"message":        {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(1600)},
			"recipients":     recipientsProperty,
			"fail_on_reject": {Type: "boolean", Default: false},
		},
		Required: []string{"message", "recipients"},
	},
	ActionSendInApp: {
		Type:  "object",
		Title: "Send in-app notification",
		Properties: map[string]*Property{
			"title":      {Type: "string", MinLength: intPtr(1)},
			"message":    {Type: "string", MinLength: intPtr(1)},
			"link":       {Type: "string"},
			"recipients": recipientsProperty,
		},
		Required: []string{"title", "message", "recipients"},
	},
	ActionUpdateStatus: {
		Type:  "object",
		Title: "Update target status",
		Properties: map[string]*Property{
			"field":  {Type: "string", Default: "status"},
			"value":  {Type: "string", MinLength: intPtr(1)},
			"reason": {Type: "string"},
		},
		Required: []string{"value"},
	},
	ActionCreateTask: {
		Type:  "object",
		Title: "Create task",
		Properties: map[string]*Property{
			"title":       {Type: "string", MinLength: intPtr(1)},
			"description": {Type: "string"},
			"assignee_id": {Type: "string"},
			"due_in_days": {Type: "integer", Minimum: floatPtr(0)},
		},
		Required: []string{"title"},
	},
	ActionWait: {
		Type:  "object",
		Title: "Wait",
		Properties: map[string]*Property{
			"minutes": {Type: "integer", Minimum: floatPtr(1)},
		},
		Required: []string{"minutes"},
	},
}

var triggerConfigSchema = &JSONSchema{
	Type:  "object",
	Title: "Trigger configuration",
	Properties: map[string]*Property{
		"condition":   {Type: "object", Required: []string{"type"}},
		"cron":        {Type: "string"},
		"window_days": {Type: "integer", Minimum: floatPtr(1)},
		"days_before": {Type: "integer", Minimum: floatPtr(1)},
		"min_amount":  {Type: "number", Minimum: floatPtr(0)},
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ActionSchema returns the JSON schema describing configuration for an action type.
func ActionSchema(actionType ActionType) (*JSONSchema, bool) {
	schema, ok := actionSchemas[actionType]

	return schema, ok
}

// ParseActionConfig checks raw configuration against the action type's schema,
// decodes it and validates the typed result.
func ParseActionConfig(actionType ActionType, raw json.RawMessage) (*ActionConfig, error) {
	schema, ok := actionSchemas[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfiguration, actionType)
	}

	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	if err := validateJSONSchema(raw, schema); err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", ErrInvalidConfiguration, actionType, err)
	}

	config, err := DecodeActionConfig(actionType, raw)
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(config.variant()); err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", ErrInvalidConfiguration, actionType, err)
	}

	return config, nil
}

// ValidateActionConfig validates an already decoded configuration against its action type.
func ValidateActionConfig(actionType ActionType, config *ActionConfig) (*ActionConfig, error) {
	if config == nil {
		return ParseActionConfig(actionType, nil)
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	return ParseActionConfig(actionType, raw)
}

// ParseTriggerConfig checks and decodes a template's trigger configuration.
func ParseTriggerConfig(kind TriggerKind, raw json.RawMessage) (*TriggerConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, validateTriggerConfig(kind, nil)
	}

	if err := validateJSONSchema(raw, triggerConfigSchema); err != nil {
		return nil, fmt.Errorf("%w: trigger config: %v", ErrInvalidConfiguration, err)
	}

	var config TriggerConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("%w: trigger config: %v", ErrInvalidConfiguration, err)
	}

	if err := validateTriggerConfig(kind, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseCondition decodes and validates a condition.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var condition Condition
	if err := json.Unmarshal(raw, &condition); err != nil {
		return nil, fmt.Errorf("%w: condition: %v", ErrInvalidConfiguration, err)
	}

	if err := condition.Validate(); err != nil {
		return nil, err
	}

	return &condition, nil
}

func validateTriggerConfig(kind TriggerKind, config *TriggerConfig) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidConfiguration, kind)
	}

	if kind == TriggerCustomSchedule && (config == nil || config.Cron == "") {
		return fmt.Errorf("%w: custom-schedule requires cron", ErrInvalidConfiguration)
	}

	if config == nil {
		return nil
	}

	if config.Cron != "" {
		if err := ValidateCron(config.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("%w: trigger config: %v", ErrInvalidConfiguration, err)
	}

	return config.Condition.Validate()
}

// ValidateTemplate checks a template and its actions, normalizing typed configuration.
func ValidateTemplate(template *WorkflowTemplate) error {
	if err := validate.Struct(template); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if err := validateTriggerConfig(template.TriggerKind, template.TriggerConfig); err != nil {
		return err
	}

	for _, action := range template.Actions {
		config, err := ValidateActionConfig(action.Type, action.Config)
		if err != nil {
			return fmt.Errorf("step %d: %w", action.Step, err)
		}

		action.Config = config

		if err := action.Condition.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", action.Step, err)
		}
	}

	return nil
}

func validateJSONSchema(raw json.RawMessage, schema *JSONSchema) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
