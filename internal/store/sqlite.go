package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"

	"github.com/i474232898/weather-metrics/internal/weather"
)

//go:embed queries/insert_reading.sql
var insertReadingSQL string

//go:embed queries/latest_per_station.sql
var latestPerStationSQL string

//go:embed queries/existing_timestamps.sql
var existingTimestampsSQL string

// foldCityFunc is the SQL name of weather.FoldCity. Migrations index it.
const foldCityFunc = "fold_city"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldCityFunc, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return weather.FoldCity(v), nil
		case []byte:
			return weather.FoldCity(string(v)), nil
		default:
			return nil, fmt.Errorf("%s: unsupported argument type %T", foldCityFunc, v)
		}
	})
}

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore persists readings in an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies migrations.
// The caller owns the returned store and must Close it.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: writes are serialized and an in-memory database is shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertReadings writes readings in one transaction. Rows whose (station_id,
// timestamp) already exist are skipped by the unique constraint, which makes
// concurrent writers safe without application locks.
func (s *SQLiteStore) InsertReadings(ctx context.Context, readings []weather.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin insert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return 0, storeErr("prepare insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range readings {
		res, err := stmt.ExecContext(ctx,
			r.StationID,
			r.City,
			r.Country,
			formatTS(r.Timestamp),
			nullFloat(r.Temperature),
			nullInt(r.Humidity),
			nullFloat(r.WindSpeed),
			r.Description,
		)
		if err != nil {
			return 0, storeErr("insert reading "+r.StationID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storeErr("rows affected", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit insert", err)
	}
	return inserted, nil
}

// ExistingTimestamps returns the stored timestamps for stationID within [from, to].
func (s *SQLiteStore) ExistingTimestamps(ctx context.Context, stationID string, from, to time.Time) (map[time.Time]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, existingTimestampsSQL, stationID, formatTS(from), formatTS(to))
	if err != nil {
		return nil, storeErr("query existing timestamps", err)
	}
	defer rows.Close()

	out := make(map[time.Time]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeErr("scan timestamp", err)
		}
		ts, err := parseTS(raw)
		if err != nil {
			return nil, storeErr("parse timestamp", err)
		}
		out[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate timestamps", err)
	}
	return out, nil
}

// LatestPerStation returns, for each station, the row holding its maximum timestamp.
func (s *SQLiteStore) LatestPerStation(ctx context.Context) ([]weather.Reading, error) {
	rows, err := s.db.QueryContext(ctx, latestPerStationSQL)
	if err != nil {
		return nil, storeErr("query latest per station", err)
	}
	defer rows.Close()

	out := []weather.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate latest per station", err)
	}
	return out, nil
}

// NewestObservation returns the maximum timestamp not after asOf.
func (s *SQLiteStore) NewestObservation(ctx context.Context, stationIDs []string, asOf time.Time) (time.Time, bool, error) {
	query := "SELECT MAX(timestamp) FROM weather WHERE timestamp <= ?"
	args := []any{formatTS(asOf)}
	if len(stationIDs) > 0 {
		query += " AND station_id IN (" + placeholders(len(stationIDs)) + ")"
		for _, id := range stationIDs {
			args = append(args, id)
		}
	}

	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return time.Time{}, false, storeErr("query newest observation", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	ts, err := parseTS(raw.String)
	if err != nil {
		return time.Time{}, false, storeErr("parse newest observation", err)
	}
	return ts, true, nil
}

// Aggregate runs one grouped statistic. Metric and statistic must be allow-listed;
// they are the only values placed into the query text, everything else is bound.
func (s *SQLiteStore) Aggregate(ctx context.Context, q weather.AggregateQuery) ([]weather.AggregateRow, error) {
	fn, col := q.Stat.Function(), q.Metric.Column()
	if fn == "" {
		return nil, fmt.Errorf("%w %q", weather.ErrInvalidStatistic, q.Stat)
	}
	if col == "" {
		return nil, fmt.Errorf("%w %q", weather.ErrInvalidMetric, q.Metric)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT station_id, city, country, %s(%s) FROM weather WHERE timestamp >= ? AND timestamp < ?", fn, col)
	args := []any{formatTS(q.From), formatTS(q.To)}

	if len(q.StationIDs) > 0 {
		b.WriteString(" AND station_id IN (" + placeholders(len(q.StationIDs)) + ")")
		for _, id := range q.StationIDs {
			args = append(args, id)
		}
	}
	if city := weather.FoldCity(q.City); city != "" {
		b.WriteString(" AND " + foldCityFunc + "(city) = ?")
		args = append(args, city)
	}
	b.WriteString(" GROUP BY station_id, city, country ORDER BY station_id, city, country")

	query := b.String()
	s.logger.Debug("aggregate query", zap.String("sql", query), zap.Int("args", len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query aggregate", err)
	}
	defer rows.Close()

	column := weather.ColumnName(q.Stat, q.Metric)
	out := []weather.AggregateRow{}
	for rows.Next() {
		var (
			key weather.GroupKey
			val sql.NullFloat64
		)
		if err := rows.Scan(&key.StationID, &key.City, &key.Country, &val); err != nil {
			return nil, storeErr("scan aggregate", err)
		}
		row := weather.AggregateRow{GroupKey: key, Values: map[string]*float64{column: nil}}
		if val.Valid {
			row.Values[column] = weather.Float64(val.Float64)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate aggregate", err)
	}
	return out, nil
}

// Count returns the number of stored readings.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM weather").Scan(&n); err != nil {
		return 0, storeErr("count readings", err)
	}
	return n, nil
}

// Reset deletes every reading.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM weather"); err != nil {
		return storeErr("reset", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(rows rowScanner) (weather.Reading, error) {
	var (
		r    weather.Reading
		ts   string
		temp sql.NullFloat64
		hum  sql.NullInt64
		wind sql.NullFloat64
		desc sql.NullString
	)
	if err := rows.Scan(&r.StationID, &r.City, &r.Country, &ts, &temp, &hum, &wind, &desc); err != nil {
		return weather.Reading{}, storeErr("scan reading", err)
	}
	t, err := parseTS(ts)
	if err != nil {
		return weather.Reading{}, storeErr("parse reading timestamp", err)
	}
	r.Timestamp = t
	if temp.Valid {
		r.Temperature = weather.Float64(temp.Float64)
	}
	if hum.Valid {
		r.Humidity = weather.Int(int(hum.Int64))
	}
	if wind.Valid {
		r.WindSpeed = weather.Float64(wind.Float64)
	}
	r.Description = desc.String
	return r, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", weather.ErrStore, op, err)
}

func formatTS(t time.Time) string {
	return t.UTC().Format(weather.TimestampLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(weather.TimestampLayout, s)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
