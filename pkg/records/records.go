// Package records defines the record store the engine reads targets from and writes status
// updates to. Records, events and organisations are owned by the surrounding system.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
)

var (
	ErrRecordNotFound       = fmt.Errorf("record %w", persistence.ErrNotFound)
	ErrEventNotFound        = fmt.Errorf("event %w", persistence.ErrNotFound)
	ErrOrganisationNotFound = fmt.Errorf("organisation %w", persistence.ErrNotFound)
	ErrUnknownStatusField   = errors.New("unknown status field")
)

// StatusActive is the record status considered active for all-active recipient lists.
const StatusActive = "ACTIVE"

// StatusChange describes a status mutation on a record, kept for audit.
type StatusChange struct {
	RecordID    string
	Field       string
	Value       string
	Reason      string
	ExecutionID string
	ChangedAt   time.Time
}

// Store is the record store consumed by the engine. All lookups are restricted to scope
// except the cross-tenant scans used by the daily sweep.
type Store interface {
	Record(ctx context.Context, scope models.Scope, id string) (*models.Record, error)
	Event(ctx context.Context, scope models.Scope, id string) (*models.Event, error)
	Organisation(ctx context.Context, tenantID string) (*models.Organisation, error)
	// UpdateRecordStatus mutates a status field of a record and returns the previous value.
	UpdateRecordStatus(ctx context.Context, scope models.Scope, change StatusChange) (string, error)
	GroupMembers(ctx context.Context, scope models.Scope, groupID string) ([]*models.Record, error)
	ActiveRecords(ctx context.Context, scope models.Scope) ([]*models.Record, error)
	CountRecords(ctx context.Context, scope models.Scope, status string) (int, error)

	// ExpiringMemberships returns records of every tenant whose membership expires in [from, to).
	ExpiringMemberships(ctx context.Context, from, to time.Time) ([]*models.Record, error)
	// EventsStartingBetween returns events of every tenant starting in [from, to).
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error)
}

// StatusFields lists the record fields update-target-status may change. The empty field
// means "status".
var StatusFields = []string{"status", "membership_status"}

// NormalizeStatusField maps an empty field to "status" and rejects unknown fields.
func NormalizeStatusField(field string) (string, error) {
	if field == "" {
		return "status", nil
	}

	for _, known := range StatusFields {
		if known == field {
			return field, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownStatusField, field)
}

// LoadTarget builds a fresh target snapshot for the given record and event ids.
// Empty ids are skipped; a missing organisation is not an error.
func LoadTarget(ctx context.Context, store Store, scope models.Scope, recordID, eventID string,
	payload map[string]any,
) (*models.Target, error) {
	target := &models.Target{Payload: payload}

	if recordID != "" {
		record, err := store.Record(ctx, scope, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to load target record: %w", err)
		}

		target.Record = record
	}

	if eventID != "" {
		event, err := store.Event(ctx, scope, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load target event: %w", err)
		}

		target.Event = event
	}

	organisation, err := store.Organisation(ctx, scope.TenantID)
	if err != nil && !errors.Is(err, ErrOrganisationNotFound) {
		return nil, fmt.Errorf("failed to load organisation: %w", err)
	}

	target.Organisation = organisation

	return target, nil
}
