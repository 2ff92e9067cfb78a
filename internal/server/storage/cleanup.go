package storage

import (
	"context"
	"log/slog"
	"time"

	"dirtree/internal/server/database"
)

// ExpiredRuns is the slice of the run repository the cleanup loop needs.
type ExpiredRuns interface {
	GetExpired(ctx context.Context) ([]*database.Run, error)
	Delete(ctx context.Context, id string) error
}

// CleanupService periodically removes runs past their retention from both
// the database and transcript storage.
type CleanupService struct {
	repo     ExpiredRuns
	store    Store
	interval time.Duration
	done     chan struct{}
}

func NewCleanupService(repo ExpiredRuns, store Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs one cleanup cycle immediately and then one per interval until
// ctx is cancelled.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		defer close(cs.done)

		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// RunOnce performs a single cleanup cycle and reports how many runs were
// removed and how many failed.
func (cs *CleanupService) RunOnce(ctx context.Context) (cleaned, failed int) {
	expired, err := cs.repo.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired runs", "error", err)
		return 0, 0
	}

	if len(expired) == 0 {
		slog.Debug("no expired runs to clean up")
		return 0, 0
	}

	for _, run := range expired {
		if err := cs.store.Delete(run.ID); err != nil {
			slog.Error("failed to delete transcript",
				"run_id", run.ID,
				"error", err,
			)
			failed++
			continue
		}

		if err := cs.repo.Delete(ctx, run.ID); err != nil {
			slog.Error("failed to delete db record",
				"run_id", run.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Debug("cleaned up expired run",
			"run_id", run.ID,
			"expired_at", run.ExpiresAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
	return cleaned, failed
}
