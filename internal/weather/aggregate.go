package weather

import (
	"encoding/json"
	"fmt"
	"sort"
)

// GroupKey identifies one aggregate output row.
type GroupKey struct {
	StationID string
	City      string
	Country   string
}

// AggregateRow is one grouped result with one column per requested statistic,
// keyed by ColumnName (e.g. "avg_Temperature"). A nil value means the group had
// no non-null samples for that metric.
type AggregateRow struct {
	GroupKey
	Values map[string]*float64
}

// MarshalJSON flattens the row to {"station_id", "city", "country", "<stat>_<metric>"...}.
func (r AggregateRow) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+3)
	for k, v := range r.Values {
		out[k] = v
	}
	out["station_id"] = r.StationID
	out["city"] = r.City
	out["country"] = r.Country
	return json.Marshal(out)
}

// MergeAggregates joins per-metric result sets on their grouping key. Grouping
// columns appear once per key; a column reported twice for the same key must
// carry the same value, otherwise ErrAggregateConflict is returned.
func MergeAggregates(sets ...[]AggregateRow) ([]AggregateRow, error) {
	merged := make(map[GroupKey]*AggregateRow)
	var order []GroupKey

	for _, set := range sets {
		for _, row := range set {
			dst, ok := merged[row.GroupKey]
			if !ok {
				dst = &AggregateRow{GroupKey: row.GroupKey, Values: make(map[string]*float64, len(row.Values))}
				merged[row.GroupKey] = dst
				order = append(order, row.GroupKey)
			}
			for col, v := range row.Values {
				prev, exists := dst.Values[col]
				if exists && !sameValue(prev, v) {
					return nil, fmt.Errorf("%w: %s for station %s", ErrAggregateConflict, col, row.StationID)
				}
				dst.Values[col] = v
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.StationID != b.StationID {
			return a.StationID < b.StationID
		}
		if a.City != b.City {
			return a.City < b.City
		}
		return a.Country < b.Country
	})

	out := make([]AggregateRow, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out, nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
