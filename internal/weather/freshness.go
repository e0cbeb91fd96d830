package weather

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LatestPerStation returns the row with the maximum timestamp for every station,
// optionally restricted to stationIDs. That row may be a forecast step ahead of
// now.
//
// Freshness is judged on observations only: readings dated after now are
// ignored, so stored forecasts never keep the data looking fresh. When the
// newest observation for the requested stations is older than the staleness
// threshold (or there is none) an ingestion pass runs first, unless the filter
// matches no stored station while the rest of the store is fresh. If the pass
// fails for every location the previously stored rows are returned as-is.
func (s *Service) LatestPerStation(ctx context.Context, stationIDs []string) ([]Reading, error) {
	rows, err := s.store.LatestPerStation(ctx)
	if err != nil {
		return nil, err
	}
	stored := filterStations(rows, stationIDs)

	now := s.now()
	newest, ok, err := s.store.NewestObservation(ctx, stationIDs, now)
	if err != nil {
		return nil, err
	}
	if ok && !s.policy.IsStale(newest, now) {
		return stored, nil
	}

	// Unknown station ids alone must not trigger provider calls.
	if len(stationIDs) > 0 && len(stored) == 0 {
		fresh, err := s.storeIsFresh(ctx, now)
		if err != nil {
			return nil, err
		}
		if fresh {
			s.logger.Debug("no stored station matches the filter", zap.Strings("station_ids", stationIDs))
			return stored, nil
		}
	}

	s.logger.Info("stored readings are stale, refreshing",
		zap.Bool("empty", !ok),
		zap.Time("newest", newest),
		zap.Duration("threshold", s.policy.Threshold),
	)

	outcomes := s.Refresh(ctx)
	if !anySucceeded(outcomes) {
		s.logger.Warn("refresh produced no data, serving stored readings", zap.Int("rows", len(stored)))
		return stored, nil
	}

	rows, err = s.store.LatestPerStation(ctx)
	if err != nil {
		return nil, err
	}
	return filterStations(rows, stationIDs), nil
}

func (s *Service) storeIsFresh(ctx context.Context, now time.Time) (bool, error) {
	newest, ok, err := s.store.NewestObservation(ctx, nil, now)
	if err != nil {
		return false, err
	}
	return ok && !s.policy.IsStale(newest, now), nil
}

func filterStations(rows []Reading, stationIDs []string) []Reading {
	out := make([]Reading, 0, len(rows))
	if len(stationIDs) == 0 {
		return append(out, rows...)
	}
	want := make(map[string]struct{}, len(stationIDs))
	for _, id := range stationIDs {
		want[id] = struct{}{}
	}
	for _, r := range rows {
		if _, ok := want[r.StationID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func anySucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Failed() || o.InsertedCount > 0 {
			return true
		}
	}
	return false
}
