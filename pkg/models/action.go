package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType is the closed set of steps a template can run.
type ActionType string

const (
	ActionSendEmail    ActionType = "send-email"
	ActionSendSMS      ActionType = "send-sms"
	ActionSendInApp    ActionType = "send-in-app-notification"
	ActionUpdateStatus ActionType = "update-target-status"
	ActionCreateTask   ActionType = "create-task"
	ActionWait         ActionType = "wait"
)

// ActionTypes lists every supported action type.
var ActionTypes = []ActionType{
	ActionSendEmail, ActionSendSMS, ActionSendInApp, ActionUpdateStatus, ActionCreateTask, ActionWait,
}

// ErrInvalidConfiguration indicates malformed trigger, action or condition configuration.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// RecipientType selects how a messaging action finds who to address.
type RecipientType string

const (
	RecipientTarget    RecipientType = "target"
	RecipientIDs       RecipientType = "ids"
	RecipientGroup     RecipientType = "group"
	RecipientAllActive RecipientType = "all-active"
)

// RecipientDescriptor is the abstract recipient selection of a messaging action.
type RecipientDescriptor struct {
	Type    RecipientType `json:"type"               validate:"required,oneof=target ids group all-active"`
	IDs     []string      `json:"ids,omitempty"      validate:"required_if=Type ids"`
	GroupID string        `json:"group_id,omitempty" validate:"required_if=Type group"`
}

// EmailConfig configures a send-email action. Subject and bodies may hold placeholders.
type EmailConfig struct {
	Subject      string              `json:"subject"                  validate:"required"`
	HTML         string              `json:"html,omitempty"           validate:"required_without=Text"`
	Text         string              `json:"text,omitempty"`
	Recipients   RecipientDescriptor `json:"recipients"`
	FailOnReject bool                `json:"fail_on_reject,omitempty"`
}

// SMSConfig configures a send-sms action.
type SMSConfig struct {
	Message      string              `json:"message"                  validate:"required,max=1600"`
	Recipients   RecipientDescriptor `json:"recipients"`
	FailOnReject bool                `json:"fail_on_reject,omitempty"`
}

// InAppConfig configures a send-in-app-notification action.
type InAppConfig struct {
	Title      string              `json:"title"          validate:"required"`
	Message    string              `json:"message"        validate:"required"`
	Link       string              `json:"link,omitempty"`
	Recipients RecipientDescriptor `json:"recipients"`
}

// StatusUpdateConfig configures an update-target-status action.
type StatusUpdateConfig struct {
	Field  string `json:"field,omitempty"`
	Value  string `json:"value"            validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// TaskConfig configures a create-task action.
type TaskConfig struct {
	Title       string `json:"title"                 validate:"required"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty" validate:"min=0"`
}

// WaitConfig configures a wait action.
type WaitConfig struct {
	Minutes int `json:"minutes" validate:"min=1"`
}

// ActionConfig is a tagged union of per-type action configuration. Exactly one
// variant is set, matching the owning ActionSpec's Type.
type ActionConfig struct {
	Email  *EmailConfig
	SMS    *SMSConfig
	InApp  *InAppConfig
	Status *StatusUpdateConfig
	Task   *TaskConfig
	Wait   *WaitConfig
}

func (c *ActionConfig) variant() any {
	switch {
	case c.Email != nil:
		return c.Email
	case c.SMS != nil:
		return c.SMS
	case c.InApp != nil:
		return c.InApp
	case c.Status != nil:
		return c.Status
	case c.Task != nil:
		return c.Task
	case c.Wait != nil:
		return c.Wait
	default:
		return nil
	}
}

// MarshalJSON writes the set variant as a flat object.
func (c *ActionConfig) MarshalJSON() ([]byte, error) {
	variant := c.variant()
	if variant == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(variant)
}

// DecodeActionConfig decodes raw configuration for the given action type without
// validating it. Rows written before validation tightened still load.
func DecodeActionConfig(actionType ActionType, raw json.RawMessage) (*ActionConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	config := &ActionConfig{}

	var target any

	switch actionType {
	case ActionSendEmail:
		config.Email = &EmailConfig{}
		target = config.Email
	case ActionSendSMS:
		config.SMS = &SMSConfig{}
		target = config.SMS
	case ActionSendInApp:
		config.InApp = &InAppConfig{}
		target = config.InApp
	case ActionUpdateStatus:
		config.Status = &StatusUpdateConfig{}
		target = config.Status
	case ActionCreateTask:
		config.Task = &TaskConfig{}
		target = config.Task
	case ActionWait:
		config.Wait = &WaitConfig{}
		target = config.Wait
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfiguration, actionType)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s config: %v", ErrInvalidConfiguration, actionType, err)
	}

	return config, nil
}

// UnmarshalJSON decodes the action and its type-dependent configuration.
func (a *ActionSpec) UnmarshalJSON(data []byte) error {
	type alias ActionSpec

	aux := struct {
		*alias

		Config json.RawMessage `json:"config,omitempty"`
	}{alias: (*alias)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Config) == 0 {
		a.Config = nil

		return nil
	}

	config, err := DecodeActionConfig(a.Type, aux.Config)
	if err != nil {
		return err
	}

	a.Config = config

	return nil
}
