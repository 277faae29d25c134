package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/records/memory"
	"github.com/congrega/flows/pkg/records/postgresql"
)

// NewRecordStore selects the record store by URL: postgres:// reads the records database,
// file:// or a bare path seeds an in-memory store from a JSON file and an empty URL starts
// it empty.
func NewRecordStore(ctx context.Context, logger *slog.Logger, recordsURL string) (records.Store, func() error, error) {
	noop := func() error { return nil }

	switch parseProvider(recordsURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewStore(ctx, logger, recordsURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgresql record store: %w", err)
		}

		return store, store.Close, nil
	case "file":
		store, err := memory.Load(strings.TrimPrefix(recordsURL, "file://"))
		if err != nil {
			return nil, nil, err
		}

		return store, noop, nil
	case "":
		if recordsURL != "" {
			return NewRecordStore(ctx, logger, "file://"+recordsURL)
		}

		logger.WarnContext(ctx, "No record store configured, using an empty in-memory store")

		return memory.NewStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: records %q", ErrUnsupportedProvider, recordsURL)
	}
}
