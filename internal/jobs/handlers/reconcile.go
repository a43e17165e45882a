// Package handlers contains asynq task handlers for background reconciliation.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/rankcache"
	"github.com/nestpulse/presence-api/internal/store"
)

// RankRebuild reconciles the Redis score index from the durable store. The
// index is derived state: after a Redis loss or drift it is rebuilt here, not
// repaired incrementally.
type RankRebuild struct {
	store store.Store
	ranks *rankcache.Cache
	log   *slog.Logger
}

func NewRankRebuild(st store.Store, ranks *rankcache.Cache, log *slog.Logger) *RankRebuild {
	return &RankRebuild{
		store: st,
		ranks: ranks,
		log:   log,
	}
}

// ProcessTask implements asynq.Handler.
func (h *RankRebuild) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	scores, err := h.store.AllScores(ctx)
	if err != nil {
		return fmt.Errorf("load scores for rebuild: %w", err)
	}

	entries := make([]rankcache.Entry, 0, len(scores))
	for _, row := range scores {
		entries = append(entries, rankcache.Entry{UserID: row.UserID, Score: row.Score})
	}

	// Redis blips during a rebuild are worth a few in-process retries before
	// the task is handed back to the queue.
	err = apperrors.WithRetry(ctx, func() error {
		if err := h.ranks.Rebuild(ctx, entries); err != nil {
			return apperrors.NewUnavailable("rank index", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild score index: %w", err)
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "rank index rebuilt", slog.Int("users", len(entries)))
	}

	return nil
}

// SearchCleanup removes search index rows whose user has since been renamed.
type SearchCleanup struct {
	store store.Store
	log   *slog.Logger
}

func NewSearchCleanup(st store.Store, log *slog.Logger) *SearchCleanup {
	return &SearchCleanup{
		store: st,
		log:   log,
	}
}

// ProcessTask implements asynq.Handler.
func (h *SearchCleanup) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := h.store.DeleteOrphanSearchEntries(ctx)
	if err != nil {
		return fmt.Errorf("cleanup search entries: %w", err)
	}

	if h.log != nil && removed > 0 {
		h.log.InfoContext(ctx, "orphaned search entries removed", slog.Int64("count", removed))
	}

	return nil
}
