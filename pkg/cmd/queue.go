package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congrega/flows/pkg/queue"
	"github.com/congrega/flows/pkg/queue/memory"
	"github.com/congrega/flows/pkg/queue/redis"
	"github.com/jonboulle/clockwork"
)

// NewQueue selects the job queue by URL scheme: redis:// and rediss:// use Redis, memory://
// or an empty URL keeps jobs in process.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	switch parseProvider(queueURL) {
	case "redis", "rediss":
		q, err := redis.NewQueue(ctx, logger, queueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis queue: %w", err)
		}

		return q, nil
	case "memory", "":
		if queueURL != "" && queueURL != "memory://" {
			return nil, fmt.Errorf("%w: queue %q", ErrUnsupportedProvider, queueURL)
		}

		logger.WarnContext(ctx, "Using in-memory job queue, queued jobs are lost on restart")

		return memory.NewQueue(clockwork.NewRealClock()), nil
	default:
		return nil, fmt.Errorf("%w: queue %q", ErrUnsupportedProvider, queueURL)
	}
}
