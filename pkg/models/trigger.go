package models

// TriggerConfig narrows when a template's trigger fires.
type TriggerConfig struct {
	// Condition must hold against the target snapshot for an execution to start.
	Condition *Condition `json:"condition,omitempty"`
	// Cron overrides the default schedule of schedule-oriented kinds.
	Cron string `json:"cron,omitempty"`
	// WindowDays is the membership renewal window (default 30).
	WindowDays int `json:"window_days,omitempty" validate:"min=0"`
	// DaysBefore is how far ahead event-approaching looks (default 1).
	DaysBefore int `json:"days_before,omitempty" validate:"min=0"`
	// MinAmount filters payment-received happenings by payload amount.
	MinAmount *float64 `json:"min_amount,omitempty" validate:"omitempty,min=0"`
}

const (
	DefaultRenewalWindowDays = 30
	DefaultDaysBefore        = 1
)

// RenewalWindowDays returns the configured renewal window or its default.
func (c *TriggerConfig) RenewalWindowDays() int {
	if c == nil || c.WindowDays <= 0 {
		return DefaultRenewalWindowDays
	}

	return c.WindowDays
}

// ApproachDays returns how many days ahead an event counts as approaching.
func (c *TriggerConfig) ApproachDays() int {
	if c == nil || c.DaysBefore <= 0 {
		return DefaultDaysBefore
	}

	return c.DaysBefore
}

// TriggerCondition returns the configured condition, if any.
func (c *TriggerConfig) TriggerCondition() *Condition {
	if c == nil {
		return nil
	}

	return c.Condition
}
