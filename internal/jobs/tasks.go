package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRankRebuild   = "leaderboard:rebuild"
	TaskTypeSearchCleanup = "search:cleanup"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type RankRebuildPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

type SearchCleanupPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewRankRebuildTask creates a task that reconciles the Redis score index
// from the persisted all-time scores.
func NewRankRebuildTask() (*asynq.Task, error) {
	payload, err := json.Marshal(RankRebuildPayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeRankRebuild, payload, asynq.Queue(QueueDefault)), nil
}

// NewSearchCleanupTask creates a task that removes orphaned search index rows.
func NewSearchCleanupTask() (*asynq.Task, error) {
	payload, err := json.Marshal(SearchCleanupPayload{RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeSearchCleanup, payload, asynq.Queue(QueueLow)), nil
}
