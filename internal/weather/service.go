package weather

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultPassTimeout bounds a refresh triggered from the read path.
const DefaultPassTimeout = 30 * time.Second

// Service answers reading queries over the store and keeps it fresh by
// triggering ingestion passes for the configured locations.
type Service struct {
	store       Store
	ingester    Ingester
	locations   []LocationSpec
	policy      StalenessPolicy
	passTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger

	refreshes singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStalenessPolicy overrides the default 10 minute threshold.
func WithStalenessPolicy(p StalenessPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithPassTimeout bounds each ingestion pass.
func WithPassTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.passTimeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new Service. ingester may be nil, in which case stored
// data is always served as-is.
func NewService(store Store, ingester Ingester, locations []LocationSpec, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		ingester:    ingester,
		locations:   locations,
		policy:      StalenessPolicy{Threshold: DefaultStalenessThreshold},
		passTimeout: DefaultPassTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locations returns the configured default locations.
func (s *Service) Locations() []LocationSpec {
	return s.locations
}

// Refresh runs one ingestion pass over the configured locations. Concurrent
// callers share a single pass and its outcomes.
func (s *Service) Refresh(ctx context.Context) []Outcome {
	if s.ingester == nil || len(s.locations) == 0 {
		return nil
	}

	ch := s.refreshes.DoChan("refresh", func() (interface{}, error) {
		// Detached so one caller giving up does not cancel the pass for the others.
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.passTimeout)
		defer cancel()
		return s.ingester.RunIngestionPass(passCtx, s.locations), nil
	})

	select {
	case res := <-ch:
		outcomes, _ := res.Val.([]Outcome)
		return outcomes
	case <-ctx.Done():
		s.logger.Warn("refresh abandoned by caller", zap.Error(ctx.Err()))
		return nil
	}
}

// InsertReading stores one reading. It returns ErrDuplicateReading when the
// (station, timestamp) pair is already present.
func (s *Service) InsertReading(ctx context.Context, r Reading) error {
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Second)
	if r.Description == "" {
		r.Description = DefaultDescription
	}
	n, err := s.store.InsertReadings(ctx, []Reading{r})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: station %s at %s", ErrDuplicateReading, r.StationID, r.Timestamp.Format(TimestampLayout))
	}
	return nil
}
