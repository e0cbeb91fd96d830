package weather

import (
	"context"
	"time"
)

// Provider abstracts a remote weather service that reports current conditions
// and a multi-step forecast for a named location.
type Provider interface {
	Name() string
	FetchCurrent(ctx context.Context, loc LocationSpec) (Reading, error)
	FetchForecast(ctx context.Context, loc LocationSpec) ([]Reading, error)
}

// Store is the contract the reading store must satisfy.
type Store interface {
	// InsertReadings writes readings in one transaction, skipping any whose
	// (station, timestamp) already exists, and returns the number written.
	InsertReadings(ctx context.Context, readings []Reading) (int, error)

	// ExistingTimestamps returns the stored timestamps for a station within [from, to].
	ExistingTimestamps(ctx context.Context, stationID string, from, to time.Time) (map[time.Time]struct{}, error)

	// LatestPerStation returns the row with the maximum timestamp for every station.
	LatestPerStation(ctx context.Context) ([]Reading, error)

	// NewestObservation returns the maximum timestamp not after asOf, over
	// stationIDs or over all stations when stationIDs is empty. ok is false
	// when no such reading exists.
	NewestObservation(ctx context.Context, stationIDs []string, asOf time.Time) (newest time.Time, ok bool, err error)

	// Aggregate runs one grouped statistic over one metric.
	Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)
}

// Ingester runs an ingestion pass over a set of locations.
type Ingester interface {
	RunIngestionPass(ctx context.Context, locations []LocationSpec) []Outcome
}
