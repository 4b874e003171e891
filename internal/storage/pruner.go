package storage

import (
	"context"
	"log/slog"
	"time"

	sl "booking_service/internal/lib/logger/sl"
)

type TokenPruner interface {
	PruneTokens(ctx context.Context, createdBefore time.Time) (int64, error)
}

// PruneOnce deletes token records older than retention.
func PruneOnce(ctx context.Context, log *slog.Logger, p TokenPruner, retention time.Duration, now time.Time) {
	const op = "storage.PruneOnce"

	n, err := p.PruneTokens(ctx, now.Add(-retention))
	if err != nil {
		log.Error("failed to prune tokens", slog.String("op", op), sl.Err(err))
		return
	}

	if n > 0 {
		log.Info("pruned token records", slog.String("op", op), slog.Int64("count", n))
	}
}

// RunPruner calls PruneOnce every interval until ctx is done.
func RunPruner(ctx context.Context, log *slog.Logger, p TokenPruner, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	PruneOnce(ctx, log, p, retention, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			PruneOnce(ctx, log, p, retention, now)
		}
	}
}
