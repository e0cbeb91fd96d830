package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-metrics/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// It enforces the same (station_id, timestamp) uniqueness as the SQLite store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: station id, value: readings keyed by UTC unix seconds
	data map[string]map[int64]weather.Reading
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int64]weather.Reading),
	}
}

// InsertReadings adds readings that are not present yet and returns how many were added.
func (s *MemoryStore) InsertReadings(_ context.Context, readings []weather.Reading) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, r := range readings {
		r.Timestamp = r.Timestamp.UTC().Truncate(time.Second)
		station, ok := s.data[r.StationID]
		if !ok {
			station = make(map[int64]weather.Reading)
			s.data[r.StationID] = station
		}
		key := r.Timestamp.Unix()
		if _, exists := station[key]; exists {
			continue
		}
		station[key] = r
		inserted++
	}
	return inserted, nil
}

// ExistingTimestamps returns the stored timestamps for stationID within [from, to].
func (s *MemoryStore) ExistingTimestamps(_ context.Context, stationID string, from, to time.Time) (map[time.Time]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := from.UTC().Truncate(time.Second).Unix(), to.UTC().Truncate(time.Second).Unix()
	out := make(map[time.Time]struct{})
	for key := range s.data[stationID] {
		if key >= lo && key <= hi {
			out[time.Unix(key, 0).UTC()] = struct{}{}
		}
	}
	return out, nil
}

// LatestPerStation returns the reading with the maximum timestamp for every station.
func (s *MemoryStore) LatestPerStation(_ context.Context) ([]weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.Reading, 0, len(s.data))
	for _, station := range s.data {
		var (
			latest weather.Reading
			maxKey int64
			found  bool
		)
		for key, r := range station {
			if !found || key > maxKey {
				latest, maxKey, found = r, key, true
			}
		}
		if found {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out, nil
}

// NewestObservation returns the maximum timestamp not after asOf.
func (s *MemoryStore) NewestObservation(_ context.Context, stationIDs []string, asOf time.Time) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := asOf.UTC().Truncate(time.Second).Unix()
	var (
		newest int64
		found  bool
	)
	scan := func(station map[int64]weather.Reading) {
		for key := range station {
			if key <= limit && (!found || key > newest) {
				newest, found = key, true
			}
		}
	}
	if len(stationIDs) == 0 {
		for _, station := range s.data {
			scan(station)
		}
	} else {
		for _, id := range stationIDs {
			scan(s.data[id])
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(newest, 0).UTC(), true, nil
}

// Aggregate computes one grouped statistic over the readings in [q.From, q.To).
func (s *MemoryStore) Aggregate(_ context.Context, q weather.AggregateQuery) ([]weather.AggregateRow, error) {
	if q.Stat.Function() == "" {
		return nil, fmt.Errorf("%w %q", weather.ErrInvalidStatistic, q.Stat)
	}
	if q.Metric.Column() == "" {
		return nil, fmt.Errorf("%w %q", weather.ErrInvalidMetric, q.Metric)
	}

	city := weather.FoldCity(q.City)
	wantStation := make(map[string]bool, len(q.StationIDs))
	for _, id := range q.StationIDs {
		wantStation[id] = true
	}

	type acc struct {
		sum, min, max float64
		n             int
	}
	groups := make(map[weather.GroupKey]*acc)

	s.mu.RLock()
	for stationID, station := range s.data {
		if len(wantStation) > 0 && !wantStation[stationID] {
			continue
		}
		for _, r := range station {
			if r.Timestamp.Before(q.From) || !r.Timestamp.Before(q.To) {
				continue
			}
			if city != "" && weather.FoldCity(r.City) != city {
				continue
			}
			key := weather.GroupKey{StationID: r.StationID, City: r.City, Country: r.Country}
			a, ok := groups[key]
			if !ok {
				a = &acc{}
				groups[key] = a
			}
			v, ok := metricValue(r, q.Metric)
			if !ok {
				continue
			}
			if a.n == 0 || v < a.min {
				a.min = v
			}
			if a.n == 0 || v > a.max {
				a.max = v
			}
			a.sum += v
			a.n++
		}
	}
	s.mu.RUnlock()

	column := weather.ColumnName(q.Stat, q.Metric)
	out := make([]weather.AggregateRow, 0, len(groups))
	for key, a := range groups {
		row := weather.AggregateRow{GroupKey: key, Values: map[string]*float64{column: nil}}
		if a.n > 0 {
			var v float64
			switch q.Stat {
			case weather.StatAvg:
				v = a.sum / float64(a.n)
			case weather.StatMin:
				v = a.min
			case weather.StatMax:
				v = a.max
			case weather.StatSum:
				v = a.sum
			}
			row.Values[column] = weather.Float64(v)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].GroupKey, out[j].GroupKey
		if a.StationID != b.StationID {
			return a.StationID < b.StationID
		}
		if a.City != b.City {
			return a.City < b.City
		}
		return a.Country < b.Country
	})
	return out, nil
}

// Count returns the number of stored readings.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, station := range s.data {
		n += len(station)
	}
	return n, nil
}

// Reset deletes every reading.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[int64]weather.Reading)
	return nil
}

// Close is a no-op; it lets MemoryStore stand in wherever a closable store is expected.
func (s *MemoryStore) Close() error {
	return nil
}

func metricValue(r weather.Reading, m weather.Metric) (float64, bool) {
	switch m {
	case weather.MetricTemperature:
		if r.Temperature != nil {
			return *r.Temperature, true
		}
	case weather.MetricHumidity:
		if r.Humidity != nil {
			return float64(*r.Humidity), true
		}
	case weather.MetricWindSpeed:
		if r.WindSpeed != nil {
			return *r.WindSpeed, true
		}
	}
	return 0, false
}
