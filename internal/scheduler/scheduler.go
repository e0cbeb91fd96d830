package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/weather"
)

// Refresher runs one ingestion pass over the configured locations.
type Refresher interface {
	Refresh(ctx context.Context) []weather.Outcome
}

// Scheduler periodically refreshes stored readings in the background.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a new Scheduler. A non-positive interval disables it.
func New(refresher Refresher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		interval:  interval,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("background refresh disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("background refresh started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) run() {
	start := time.Now()
	outcomes := s.refresher.Refresh(context.Background())

	inserted, failed := 0, 0
	for _, o := range outcomes {
		inserted += o.InsertedCount
		if o.Failed() {
			failed++
		}
	}
	s.logger.Info("background refresh completed",
		zap.Int("locations", len(outcomes)),
		zap.Int("inserted", inserted),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)),
	)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
