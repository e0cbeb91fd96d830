package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Metric is an allow-listed reading column that can be aggregated.
type Metric string

const (
	MetricTemperature Metric = "Temperature"
	MetricHumidity    Metric = "Humidity"
	MetricWindSpeed   Metric = "WindSpeed"
)

var metricColumns = map[Metric]string{
	MetricTemperature: "temperature",
	MetricHumidity:    "humidity",
	MetricWindSpeed:   "wind_speed",
}

// ParseMetric validates a metric name by exact membership in the allow-list.
func ParseMetric(name string) (Metric, error) {
	m := Metric(name)
	if _, ok := metricColumns[m]; !ok {
		return "", fmt.Errorf("%w %q (allowed: Temperature, Humidity, WindSpeed)", ErrInvalidMetric, name)
	}
	return m, nil
}

// Column returns the store column for the metric, or "" if it is not allow-listed.
func (m Metric) Column() string {
	return metricColumns[m]
}

// Statistic is an allow-listed aggregate function.
type Statistic string

const (
	StatAvg Statistic = "avg"
	StatMin Statistic = "min"
	StatMax Statistic = "max"
	StatSum Statistic = "sum"
)

var statFunctions = map[Statistic]string{
	StatAvg: "AVG",
	StatMin: "MIN",
	StatMax: "MAX",
	StatSum: "SUM",
}

// ParseStatistic validates a statistic name by exact membership in the allow-list.
func ParseStatistic(name string) (Statistic, error) {
	s := Statistic(name)
	if _, ok := statFunctions[s]; !ok {
		return "", fmt.Errorf("%w %q (allowed: avg, min, max, sum)", ErrInvalidStatistic, name)
	}
	return s, nil
}

// Function returns the SQL aggregate function, or "" if the statistic is not allow-listed.
func (s Statistic) Function() string {
	return statFunctions[s]
}

// ColumnName is the output column for a statistic over a metric, e.g. "avg_Temperature".
func ColumnName(stat Statistic, metric Metric) string {
	return string(stat) + "_" + string(metric)
}

// DateRange is a day-granular range; both days are included.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Bounds returns the half-open instant range [start 00:00Z, end+1d 00:00Z).
func (r DateRange) Bounds() (time.Time, time.Time) {
	return truncateDay(r.Start), truncateDay(r.End).AddDate(0, 0, 1)
}

// NormalizeDateRange fills defaults: end is today (UTC) and start is end minus one day.
func NormalizeDateRange(start, end *time.Time, now time.Time) (DateRange, error) {
	var r DateRange
	if end != nil {
		r.End = truncateDay(*end)
	} else {
		r.End = truncateDay(now)
	}
	if start != nil {
		r.Start = truncateDay(*start)
	} else {
		r.Start = r.End.AddDate(0, 0, -1)
	}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidDateRange, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	return r, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FoldCity returns the case-folded form city filters compare on. Folding is
// Unicode-aware, so "ZÜRICH" and "Zürich" match.
func FoldCity(city string) string {
	return cases.Fold().String(strings.TrimSpace(city))
}

// AggregateQuery is a validated, single-metric grouped aggregate.
type AggregateQuery struct {
	Metric     Metric
	Stat       Statistic
	From       time.Time // inclusive
	To         time.Time // exclusive
	StationIDs []string
	City       string
}

// StatQuery is the caller-facing request for one statistic over one or more metrics.
type StatQuery struct {
	Metrics    []string
	Stat       string
	Start      *time.Time
	End        *time.Time
	StationIDs []string
	City       string
}

type validatedQuery struct {
	metrics []Metric
	stat    Statistic
	rng     DateRange
}

// validate checks every name against the allow-lists. It never touches the store.
func (q StatQuery) validate(now time.Time) (validatedQuery, error) {
	var out validatedQuery
	if len(q.Metrics) == 0 {
		return out, fmt.Errorf("%w: at least one metric is required", ErrInvalidMetric)
	}
	seen := make(map[Metric]bool, len(q.Metrics))
	for _, name := range q.Metrics {
		m, err := ParseMetric(name)
		if err != nil {
			return out, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out.metrics = append(out.metrics, m)
	}

	stat, err := ParseStatistic(q.Stat)
	if err != nil {
		return out, err
	}
	out.stat = stat

	rng, err := NormalizeDateRange(q.Start, q.End, now)
	if err != nil {
		return out, err
	}
	out.rng = rng
	return out, nil
}

// MetricStats computes one statistic per requested metric, grouped by station.
// Each metric is aggregated by its own grouped query and the results are merged
// on (station_id, city, country).
func (s *Service) MetricStats(ctx context.Context, q StatQuery) ([]AggregateRow, error) {
	v, err := q.validate(s.now())
	if err != nil {
		return nil, err
	}

	from, to := v.rng.Bounds()
	city := strings.TrimSpace(q.City)

	results := make([][]AggregateRow, 0, len(v.metrics))
	for _, m := range v.metrics {
		rows, err := s.store.Aggregate(ctx, AggregateQuery{
			Metric:     m,
			Stat:       v.stat,
			From:       from,
			To:         to,
			StationIDs: q.StationIDs,
			City:       city,
		})
		if err != nil {
			return nil, fmt.Errorf("aggregate %s(%s): %w", v.stat, m, err)
		}
		results = append(results, rows)
	}

	return MergeAggregates(results...)
}

// MetricsAverage computes the average of every requested metric.
func (s *Service) MetricsAverage(ctx context.Context, q StatQuery) ([]AggregateRow, error) {
	q.Stat = string(StatAvg)
	return s.MetricStats(ctx, q)
}
