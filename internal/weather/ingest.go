package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy controls how retryable provider failures are repeated within a pass.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice, starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Coordinator pulls readings from a provider and merges them into the store.
// It is safe for concurrent use: the store's insert-if-absent write is the
// authoritative de-duplication, the existence pre-check only saves work.
type Coordinator struct {
	provider    Provider
	store       Store
	retry       RetryPolicy
	concurrency int
	logger      *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) CoordinatorOption {
	return func(c *Coordinator) { c.retry = p }
}

// WithConcurrency bounds how many locations are ingested at once.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(provider Provider, store Store, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		provider:    provider,
		store:       store,
		retry:       DefaultRetryPolicy,
		concurrency: 4,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunIngestionPass ingests current conditions and the forecast for every location.
// Locations are independent: one location's failure never aborts the others.
// Outcomes are returned in the order of locations.
func (c *Coordinator) RunIngestionPass(ctx context.Context, locations []LocationSpec) []Outcome {
	passID := uuid.NewString()
	logger := c.logger.With(zap.String("pass_id", passID))
	logger.Info("ingestion pass started", zap.Int("locations", len(locations)))

	outcomes := make([]Outcome, len(locations))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, loc := range locations {
		i, loc := i, loc
		g.Go(func() error {
			outcomes[i] = c.ingestLocation(ctx, logger, loc)
			return nil
		})
	}
	_ = g.Wait()

	var inserted, skipped int
	for _, o := range outcomes {
		inserted += o.InsertedCount
		if o.Skipped {
			skipped++
		}
	}
	logger.Info("ingestion pass completed",
		zap.Int("inserted", inserted),
		zap.Int("skipped_locations", skipped),
	)
	return outcomes
}

func (c *Coordinator) ingestLocation(ctx context.Context, logger *zap.Logger, loc LocationSpec) Outcome {
	out := Outcome{Location: loc}
	logger = logger.With(zap.String("location", loc.Key()))

	if strings.TrimSpace(loc.City) == "" {
		out.Skipped = true
		out.Err = fmt.Errorf("%w: empty location name", ErrConfiguration)
		logger.Warn("location skipped", zap.Error(out.Err))
		return out
	}

	var current Reading
	err := c.withRetry(ctx, logger, "current", func() error {
		var err error
		current, err = c.provider.FetchCurrent(ctx, loc)
		return err
	})
	if err != nil {
		return c.skip(logger, out, err)
	}
	n, err := c.merge(ctx, []Reading{current})
	out.InsertedCount += n
	if err != nil {
		out.Err = err
		logger.Error("store current reading", zap.Error(err))
		return out
	}

	var forecast []Reading
	err = c.withRetry(ctx, logger, "forecast", func() error {
		var err error
		forecast, err = c.provider.FetchForecast(ctx, loc)
		return err
	})
	if err != nil {
		return c.skip(logger, out, err)
	}
	n, err = c.merge(ctx, forecast)
	out.InsertedCount += n
	if err != nil {
		out.Err = err
		logger.Error("store forecast readings", zap.Error(err))
		return out
	}

	logger.Info("location ingested", zap.Int("inserted", out.InsertedCount))
	return out
}

func (c *Coordinator) skip(logger *zap.Logger, out Outcome, err error) Outcome {
	out.Skipped = true
	out.Err = err
	if errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrConfiguration) {
		logger.Warn("location skipped", zap.Int("inserted", out.InsertedCount), zap.Error(err))
	} else {
		logger.Error("location failed", zap.Int("inserted", out.InsertedCount), zap.Error(err))
	}
	return out
}

// withRetry repeats fn while it fails with a retryable provider error.
func (c *Coordinator) withRetry(ctx context.Context, logger *zap.Logger, call string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := c.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var pe *ProviderUnavailableError
		if errors.As(err, &pe) && pe.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("provider call failed, retrying",
			zap.String("call", call),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, policy, notify)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrProviderUnavailable) {
		return &ProviderUnavailableError{Provider: c.provider.Name(), Endpoint: call, Err: err}
	}
	return err
}

// merge drops candidates already present in the store and inserts the rest as
// one batch. The batch is one provider response.
func (c *Coordinator) merge(ctx context.Context, candidates []Reading) (int, error) {
	fresh, err := c.filterExisting(ctx, candidates)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	return c.store.InsertReadings(ctx, fresh)
}

func (c *Coordinator) filterExisting(ctx context.Context, candidates []Reading) ([]Reading, error) {
	type span struct{ from, to time.Time }
	spans := make(map[string]span)
	for _, r := range candidates {
		s, ok := spans[r.StationID]
		if !ok {
			spans[r.StationID] = span{r.Timestamp, r.Timestamp}
			continue
		}
		if r.Timestamp.Before(s.from) {
			s.from = r.Timestamp
		}
		if r.Timestamp.After(s.to) {
			s.to = r.Timestamp
		}
		spans[r.StationID] = s
	}

	existing := make(map[string]map[time.Time]struct{}, len(spans))
	for station, s := range spans {
		ts, err := c.store.ExistingTimestamps(ctx, station, s.from, s.to)
		if err != nil {
			return nil, err
		}
		existing[station] = ts
	}

	fresh := make([]Reading, 0, len(candidates))
	batch := make(map[string]map[time.Time]struct{})
	for _, r := range candidates {
		ts := r.Timestamp.UTC().Truncate(time.Second)
		if _, dup := existing[r.StationID][ts]; dup {
			continue
		}
		if batch[r.StationID] == nil {
			batch[r.StationID] = make(map[time.Time]struct{})
		}
		if _, dup := batch[r.StationID][ts]; dup {
			continue
		}
		batch[r.StationID][ts] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh, nil
}
