package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc is one periodic maintenance job.
type SweepFunc func(ctx context.Context) error

type sweep struct {
	name string
	fn   SweepFunc
}

// Sweeper runs registered maintenance jobs on a fixed interval, such as
// retrying ungraded answers or closing overdue attempts.
type Sweeper struct {
	interval time.Duration
	logger   *slog.Logger
	sweeps   []sweep

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewSweeper creates a Sweeper that ticks every interval.
func NewSweeper(interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		stop:     make(chan struct{}),
	}
}

// Add registers a job. It must be called before Start.
func (s *Sweeper) Add(name string, fn SweepFunc) {
	s.sweeps = append(s.sweeps, sweep{name: name, fn: fn})
}

// Start launches the periodic loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweeper started", "interval", s.interval, "jobs", len(s.sweeps))
}

// Stop ends the loop and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once, in registration order. A failing job is
// logged and does not prevent the others from running.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, sw := range s.sweeps {
		if ctx.Err() != nil {
			return
		}
		if err := sw.fn(ctx); err != nil {
			s.logger.Error("sweep failed", "sweep", sw.name, "error", err)
		}
	}
}
