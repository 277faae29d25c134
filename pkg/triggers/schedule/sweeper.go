// Package schedule fires the standing WorkflowTriggers of schedule-oriented templates.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/triggers"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec is how often due triggers are looked up.
const DefaultSweepSpec = "@every 5m"

// Firer starts executions of one template; satisfied by *triggers.Service.
type Firer interface {
	Fire(ctx context.Context, template *models.WorkflowTemplate, h triggers.Happening) (*models.WorkflowExecution, error)
}

type Option func(*Sweeper)

// WithSpec overrides the sweep interval expression.
func WithSpec(spec string) Option {
	return func(s *Sweeper) {
		s.spec = spec
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

// Sweeper periodically loads the due triggers and fires them. Custom schedules start
// one untargeted execution. Membership-expiring and event-approaching triggers scan the
// record store for targets that entered the template's window, so their default daily
// cron is the daily sweep of those time-based conditions.
type Sweeper struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	store       records.Store
	firer       Firer
	clock       clockwork.Clock
	spec        string
	cron        *cron.Cron
}

func NewSweeper(logger *slog.Logger, p persistence.Persistence, store records.Store, firer Firer, opts ...Option) *Sweeper {
	s := &Sweeper{
		logger:      logger.With("module", "schedule_sweeper"),
		persistence: p,
		store:       store,
		firer:       firer,
		clock:       clockwork.NewRealClock(),
		spec:        DefaultSweepSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start registers the sweep job. Overlapping sweeps are skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := cronLogger{logger: s.logger}

	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)

	if _, err := s.cron.AddFunc(s.spec, func() { s.run(context.WithoutCancel(ctx)) }); err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.logger.InfoContext(ctx, "Starting schedule sweeper", "spec", s.spec)
	s.cron.Start()

	return nil
}

// Stop prevents new sweeps and waits for a running one until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping schedule sweeper")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Sweep finished with errors", "error", err)
	}
}

// Sweep fires every trigger due now. Each trigger is handled on its own; their errors
// are joined.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock.Now().UTC()

	due, err := s.persistence.Triggers().Due(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load due triggers: %w", err)
	}

	s.logger.DebugContext(ctx, "Sweeping due triggers", "count", len(due))

	var errs []error

	for _, trigger := range due {
		if err := s.fireTrigger(ctx, trigger, now); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", trigger.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (s *Sweeper) fireTrigger(ctx context.Context, trigger *models.WorkflowTrigger, now time.Time) error {
	logger := s.logger.With("trigger_id", trigger.ID, "template_id", trigger.TemplateID, "kind", trigger.Kind)

	template, err := s.persistence.Templates().GetByID(ctx, trigger.TemplateID)
	if err != nil && !persistence.IsNotFound(err) {
		return fmt.Errorf("failed to load template: %w", err)
	}

	if template == nil || template.Status != models.TemplateStatusActive {
		logger.InfoContext(ctx, "Template gone or not active, deactivating trigger")

		if err := s.persistence.Triggers().DeactivateByTemplate(ctx, trigger.TemplateID); err != nil {
			return fmt.Errorf("failed to deactivate trigger: %w", err)
		}

		return nil
	}

	fired, fireErr := s.fireTemplate(ctx, template, now)

	if err := trigger.Advance(now); err != nil {
		return errors.Join(fireErr, fmt.Errorf("failed to advance trigger: %w", err))
	}

	if err := s.persistence.Triggers().Save(ctx, trigger); err != nil {
		return errors.Join(fireErr, fmt.Errorf("failed to save trigger: %w", err))
	}

	logger.InfoContext(ctx, "Trigger fired", "executions", fired, "next_run_at", trigger.NextRunAt)

	return fireErr
}

func (s *Sweeper) fireTemplate(ctx context.Context, template *models.WorkflowTemplate, now time.Time) (int, error) {
	switch template.TriggerKind {
	case models.TriggerMembershipExpiring:
		return s.fireExpiringMemberships(ctx, template, now)
	case models.TriggerEventApproaching:
		return s.fireApproachingEvents(ctx, template, now)
	default:
		return s.fireAll(ctx, template, []triggers.Happening{{
			TenantID:    template.TenantID,
			SubTenantID: template.SubTenantID,
			Payload:     map[string]any{"scheduled_at": now.Format(time.RFC3339)},
		}})
	}
}

// fireExpiringMemberships fires for records whose membership expires on the day exactly
// the template's renewal window after today.
func (s *Sweeper) fireExpiringMemberships(ctx context.Context, template *models.WorkflowTemplate, now time.Time) (int, error) {
	window := template.TriggerConfig.RenewalWindowDays()
	from := startOfDay(now).AddDate(0, 0, window)

	list, err := s.store.ExpiringMemberships(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to find expiring memberships: %w", err)
	}

	var happenings []triggers.Happening

	for _, record := range list {
		if !template.Scope().Owns(record.TenantID, record.SubTenantID) {
			continue
		}

		happenings = append(happenings, triggers.Happening{
			TargetID:    record.ID,
			TenantID:    record.TenantID,
			SubTenantID: record.SubTenantID,
			Payload: map[string]any{
				"membership_expires_at": record.MembershipExpiresAt.Format(time.RFC3339),
				"days_until_expiry":     window,
			},
		})
	}

	return s.fireAll(ctx, template, happenings)
}

// fireApproachingEvents fires for events starting within the day that begins the
// template's days_before ahead of now.
func (s *Sweeper) fireApproachingEvents(ctx context.Context, template *models.WorkflowTemplate, now time.Time) (int, error) {
	days := template.TriggerConfig.ApproachDays()
	from := now.Add(time.Duration(days) * 24 * time.Hour)

	list, err := s.store.EventsStartingBetween(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to find approaching events: %w", err)
	}

	var happenings []triggers.Happening

	for _, event := range list {
		if !template.Scope().Owns(event.TenantID, event.SubTenantID) {
			continue
		}

		happenings = append(happenings, triggers.Happening{
			TargetID:    event.ID,
			TenantID:    event.TenantID,
			SubTenantID: event.SubTenantID,
			Payload: map[string]any{
				"starts_at":   event.StartDate.UTC().Format(time.RFC3339),
				"days_before": days,
			},
		})
	}

	return s.fireAll(ctx, template, happenings)
}

func (s *Sweeper) fireAll(ctx context.Context, template *models.WorkflowTemplate, happenings []triggers.Happening) (int, error) {
	fired := 0

	var errs []error

	for _, h := range happenings {
		execution, err := s.firer.Fire(ctx, template, h)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to fire template", "template_id", template.ID, "target_id", h.TargetID, "error", err)
			errs = append(errs, err)

			continue
		}

		if execution != nil {
			fired++
		}
	}

	return fired, errors.Join(errs...)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()

	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// cronLogger routes robfig/cron logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
