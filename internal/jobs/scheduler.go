package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks(rankRebuildSpec, searchCleanupSpec string) error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		log:            log,
	}
}

// RegisterTasks wires the periodic reconcile tasks. Empty cron specs disable
// the corresponding task.
func (s *scheduler) RegisterTasks(rankRebuildSpec, searchCleanupSpec string) error {
	if rankRebuildSpec != "" {
		task, err := NewRankRebuildTask()
		if err != nil {
			return err
		}

		if _, err := s.asynqScheduler.Register(rankRebuildSpec, task); err != nil {
			return err
		}

		if s.log != nil {
			s.log.InfoContext(context.Background(), "scheduler: registered rank rebuild task", "spec", rankRebuildSpec)
		}
	}

	if searchCleanupSpec != "" {
		task, err := NewSearchCleanupTask()
		if err != nil {
			return err
		}

		if _, err := s.asynqScheduler.Register(searchCleanupSpec, task); err != nil {
			return err
		}

		if s.log != nil {
			s.log.InfoContext(context.Background(), "scheduler: registered search cleanup task", "spec", searchCleanupSpec)
		}
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
