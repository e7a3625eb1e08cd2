package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

// scheduler runs periodic passes on fixed intervals. A pass that is still
// running when its next tick arrives is not overlapped; the tick is dropped.
type scheduler struct {
	logger zerolog.Logger
	tasks  []task
	wg     sync.WaitGroup
}

func newScheduler(logger zerolog.Logger) *scheduler {
	return &scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// every registers fn. A non-positive interval disables the task.
func (s *scheduler) every(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		s.logger.Info().Str("task", name).Msg("periodic task disabled")
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: fn})
}

func (s *scheduler) start(ctx context.Context) {
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

func (s *scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	s.logger.Info().Str("task", t.name).Dur("interval", t.interval).Msg("periodic task scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			t.run(ctx)
			s.logger.Debug().Str("task", t.name).Dur("took", time.Since(start)).Msg("periodic task finished")
		}
	}
}

// wait blocks until every loop has observed cancellation.
func (s *scheduler) wait() { s.wg.Wait() }
