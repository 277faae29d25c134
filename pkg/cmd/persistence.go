package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/persistence/file"
	"github.com/congrega/flows/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence implementation by URL scheme. postgres:// and
// postgresql:// use PostgreSQL; file:// and bare paths use JSON files under the path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgresql persistence: %w", err)
		}

		return p, nil
	case "file", "":
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, databaseURL)
	}
}

func parseProvider(url string) string {
	provider, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}

	return strings.ToLower(provider)
}
