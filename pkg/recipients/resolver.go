// Package recipients turns recipient descriptors into concrete, deduplicated contacts.
package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records"
)

// Resolver reads recipients from the record store. It never writes.
type Resolver struct {
	store  records.Store
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger, store records.Store) *Resolver {
	return &Resolver{store: store, logger: logger.With("module", "recipients")}
}

// Resolve returns the recipients the descriptor names, deduplicated by id in first-seen
// order. An empty result is valid. Explicit ids that no longer exist are skipped.
func (r *Resolver) Resolve(ctx context.Context, descriptor models.RecipientDescriptor, execCtx *models.ExecutionContext) ([]models.Recipient, error) {
	scope := execCtx.Scope()

	var found []*models.Record

	switch descriptor.Type {
	case models.RecipientTarget, "":
		if record := execCtx.TargetRecord(); record != nil {
			found = append(found, record)
		}
	case models.RecipientIDs:
		for _, id := range descriptor.IDs {
			record, err := r.store.Record(ctx, scope, id)
			if errors.Is(err, records.ErrRecordNotFound) {
				r.logger.WarnContext(ctx, "Skipping unknown recipient", "record_id", id, "tenant_id", scope.TenantID)

				continue
			}

			if err != nil {
				return nil, fmt.Errorf("failed to load recipient %s: %w", id, err)
			}

			found = append(found, record)
		}
	case models.RecipientGroup:
		members, err := r.store.GroupMembers(ctx, scope, descriptor.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s: %w", descriptor.GroupID, err)
		}

		found = members
	case models.RecipientAllActive:
		active, err := r.store.ActiveRecords(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to load active records: %w", err)
		}

		found = active
	default:
		return nil, fmt.Errorf("%w: unknown recipient type %q", models.ErrInvalidConfiguration, descriptor.Type)
	}

	return dedupe(found), nil
}

func dedupe(list []*models.Record) []models.Recipient {
	seen := make(map[string]struct{}, len(list))
	result := make([]models.Recipient, 0, len(list))

	for _, record := range list {
		if _, ok := seen[record.ID]; ok {
			continue
		}

		seen[record.ID] = struct{}{}
		result = append(result, models.RecipientFromRecord(record))
	}

	return result
}
