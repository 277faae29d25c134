package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Default cron expressions for schedule-oriented trigger kinds without an explicit one.
var defaultTriggerCron = map[TriggerKind]string{
	TriggerMembershipExpiring: "0 6 * * *",
	TriggerEventApproaching:   "0 7 * * *",
}

// ErrInvalidSchedule is returned when a trigger's cron expression cannot be used.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WorkflowTrigger is a standing registration connecting a template to a recurring
// wall-clock schedule. It stores the cron expression and the precomputed next run time
// so the sweeper can query due rows without keeping a timer per trigger.
type WorkflowTrigger struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	Kind            TriggerKind    `json:"kind"`
	Config          *TriggerConfig `json:"config,omitempty"`
	CronExpression  string         `json:"cron_expression,omitempty"`
	NextRunAt       time.Time      `json:"next_run_at"`
	IsActive        bool           `json:"is_active"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
	TenantID        string         `json:"tenant_id"`
	SubTenantID     string         `json:"sub_tenant_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewWorkflowTrigger builds the standing trigger for a schedule-oriented template,
// with the first run computed from now.
func NewWorkflowTrigger(id string, template *WorkflowTemplate, now time.Time) (*WorkflowTrigger, error) {
	expression := TriggerCronFor(template.TriggerKind, template.TriggerConfig)
	if expression == "" {
		return nil, ErrInvalidSchedule
	}

	trigger := &WorkflowTrigger{
		ID:             id,
		TemplateID:     template.ID,
		Kind:           template.TriggerKind,
		Config:         template.TriggerConfig,
		CronExpression: expression,
		IsActive:       template.Status == TemplateStatusActive,
		TenantID:       template.TenantID,
		SubTenantID:    template.SubTenantID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := trigger.calculateNextRunAt(now); err != nil {
		return nil, err
	}

	return trigger, nil
}

// TriggerCronFor returns the cron expression a template of the given kind runs on.
func TriggerCronFor(kind TriggerKind, config *TriggerConfig) string {
	if config != nil && config.Cron != "" {
		return config.Cron
	}

	return defaultTriggerCron[kind]
}

// Advance records a firing at now and moves NextRunAt forward.
func (t *WorkflowTrigger) Advance(now time.Time) error {
	fired := now
	t.LastTriggeredAt = &fired

	return t.calculateNextRunAt(now)
}

func (t *WorkflowTrigger) calculateNextRunAt(reference time.Time) error {
	schedule, err := cronParser.Parse(t.CronExpression)
	if err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}

	t.NextRunAt = schedule.Next(reference)
	t.UpdatedAt = reference

	return nil
}

// IsDue checks if this trigger should fire at the given time.
func (t *WorkflowTrigger) IsDue(now time.Time) bool {
	return t.IsActive && !t.NextRunAt.After(now)
}

// ValidateCron checks a 5-field cron expression.
func ValidateCron(expression string) error {
	if _, err := cronParser.Parse(expression); err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}

	return nil
}
