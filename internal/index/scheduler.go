package index

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner runs index passes.
type Runner interface {
	RunOnce(ctx context.Context) (*PassStats, error)
	NotifyChanged(ctx context.Context, sourceID string) (*PassStats, error)
}

// Scheduler drives an Indexer: one pass at startup, then one per tick or
// per notification. Notifications arriving while a pass is queued are
// merged into it.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	trigger  chan string
	logger   *slog.Logger

	mu       sync.Mutex
	last     *PassStats
	lastErr  error
	lastDone time.Time
}

// NewScheduler creates a scheduler that runs a pass every interval.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		trigger:  make(chan string, 1),
		logger:   logger,
	}
}

// Notify requests a pass for a changed source. It never blocks; if a pass is
// already queued the request is merged into it.
func (s *Scheduler) Notify(sourceID string) {
	select {
	case s.trigger <- sourceID:
	default:
		s.logger.Debug("pass already queued, merging notification", "source_id", sourceID)
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.record(s.runner.RunOnce(ctx))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.record(s.runner.RunOnce(ctx))
		case id := <-s.trigger:
			s.record(s.runner.NotifyChanged(ctx, id))
		}
	}
}

// LastPass returns the result of the most recent pass, if any.
func (s *Scheduler) LastPass() (*PassStats, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastDone, s.lastErr
}

func (s *Scheduler) record(stats *PassStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = stats
	s.lastErr = err
	s.lastDone = time.Now()
}
