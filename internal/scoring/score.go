// Package scoring computes presence scores. All functions are pure; callers
// supply the clock.
package scoring

import (
	"sort"
	"time"

	"github.com/nestpulse/presence-api/internal/domain"
)

// Window is the rolling period covered by the day score.
const Window = 24 * time.Hour

// accrualDivisor converts elapsed milliseconds at home into all-time points.
const accrualDivisor = 10

// DayScore returns the percentage of the rolling 24-hour window ending at now
// that the user spent HOME, in [0, 100].
//
// windowEvents must be the user's events with timestamps inside the window,
// ascending. fallback is the most recent event ever recorded and is consulted
// only when the window is empty: the user has been in that state for the whole
// window.
func DayScore(windowEvents []domain.PresenceEvent, fallback *domain.PresenceEvent, now time.Time) float64 {
	if len(windowEvents) == 0 {
		if fallback != nil && fallback.Type == domain.EventHome {
			return 100
		}
		return 0
	}

	// Events are transitions; a run of repeated types carries no information
	// beyond its first element.
	collapsed := make([]domain.PresenceEvent, 0, len(windowEvents))
	for _, event := range windowEvents {
		if len(collapsed) > 0 && collapsed[len(collapsed)-1].Type == event.Type {
			continue
		}
		collapsed = append(collapsed, event)
	}

	sort.SliceStable(collapsed, func(i, j int) bool {
		return collapsed[i].OccurredAt.Before(collapsed[j].OccurredAt)
	})

	windowStart := now.Add(-Window)

	// An AWAY transition implies HOME held before it; a trailing HOME interval
	// is still open and must be closed at now to count.
	if collapsed[0].Type == domain.EventAway {
		collapsed = append([]domain.PresenceEvent{{
			UserID:     collapsed[0].UserID,
			Type:       domain.EventHome,
			OccurredAt: windowStart,
		}}, collapsed...)
	}
	if collapsed[len(collapsed)-1].Type == domain.EventHome {
		collapsed = append(collapsed, domain.PresenceEvent{
			UserID:     collapsed[len(collapsed)-1].UserID,
			Type:       domain.EventAway,
			OccurredAt: now,
		})
	}

	var homeMillis int64
	for i := 1; i < len(collapsed); i++ {
		previous, current := collapsed[i-1], collapsed[i]
		if previous.Type == domain.EventHome && current.Type == domain.EventAway {
			homeMillis += current.OccurredAt.UnixMilli() - previous.OccurredAt.UnixMilli()
		}
	}

	score := float64(homeMillis) / float64(Window.Milliseconds()) * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}

	return score
}

// AccrualDelta converts time elapsed while HOME into all-time score points.
func AccrualDelta(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return float64(elapsed.Milliseconds()) / accrualDivisor
}

// CompetitionRanks assigns standard competition ranks to scores sorted
// descending: tied scores share a rank and subsequent ranks skip accordingly
// (1, 1, 3).
func CompetitionRanks(scores []float64) []int {
	ranks := make([]int, len(scores))
	for i := range scores {
		switch {
		case i == 0:
			ranks[i] = 1
		case scores[i] < scores[i-1]:
			ranks[i] = i + 1
		default:
			ranks[i] = ranks[i-1]
		}
	}

	return ranks
}
