package resolver

import (
	"context"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/scoring"
	"github.com/nestpulse/presence-api/pkg/metrics"
)

const maxLeaderboardPage = 100

// LeaderboardRange returns the slice of the leaderboard between startRank and
// endRank (0-based, inclusive) with standard competition ranks assigned: tied
// scores share a rank and subsequent ranks skip. Entries whose profile cannot
// be hydrated are silently dropped.
func (r *Resolver) LeaderboardRange(ctx context.Context, startRank, endRank int64) ([]domain.LeaderboardEntry, error) {
	if startRank < 0 || endRank < startRank {
		return nil, apperrors.NewInvalidArgument("invalid leaderboard range")
	}
	if endRank-startRank+1 > maxLeaderboardPage {
		endRank = startRank + maxLeaderboardPage - 1
	}

	raw, err := r.ranks.Range(ctx, startRank, endRank)
	if err != nil {
		return nil, err
	}

	metrics.RecordLeaderboardQuery()

	if len(raw) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		ids = append(ids, entry.UserID)
	}

	profiles, err := r.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(raw))
	scores := make([]float64, 0, len(raw))
	for _, entry := range raw {
		user, ok := profiles[entry.UserID]
		if !ok {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{User: user, Score: entry.Score})
		scores = append(scores, entry.Score)
	}

	for i, rank := range scoring.CompetitionRanks(scores) {
		entries[i].Rank = rank
	}

	return entries, nil
}
