package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/weather"
)

const csvBatchSize = 500

// csvColumns maps accepted header spellings (lower-cased) to reading fields.
var csvColumns = map[string]string{
	"station_id":          "station_id",
	"city":                "city",
	"country":             "country",
	"datetime":            "timestamp",
	"timestamp":           "timestamp",
	"temperature":         "temperature",
	"temperature (°c)":    "temperature",
	"humidity":            "humidity",
	"humidity (%)":        "humidity",
	"windspeed":           "wind_speed",
	"wind_speed":          "wind_speed",
	"wind speed (m/s)":    "wind_speed",
	"weatherdescription":  "description",
	"weather description": "description",
	"description":         "description",
}

var requiredCSVFields = []string{"station_id", "city", "country", "timestamp"}

// Datetimes without a zone are taken as UTC.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// CSVResult summarises one backfill.
type CSVResult struct {
	Rows     int
	Inserted int
	Invalid  int
}

// LoadCSVFile backfills readings from the CSV file at path.
func LoadCSVFile(ctx context.Context, dst weather.Store, path string, logger *zap.Logger) (CSVResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return CSVResult{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	res, err := LoadCSV(ctx, dst, f, logger)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// LoadCSV inserts historical readings, skipping rows already stored. Rows with
// an unparsable timestamp are counted as invalid and skipped; it is an error
// when the file has rows but none of them parse.
func LoadCSV(ctx context.Context, dst weather.Store, r io.Reader, logger *zap.Logger) (CSVResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res CSVResult

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := csvColumns[h]; ok {
			index[field] = i
		}
	}
	for _, f := range requiredCSVFields {
		if _, ok := index[f]; !ok {
			return res, fmt.Errorf("missing required column %q", f)
		}
	}

	batch := make([]weather.Reading, 0, csvBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := dst.InsertReadings(ctx, batch)
		if err != nil {
			return err
		}
		res.Inserted += n
		batch = batch[:0]
		return nil
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		res.Rows++

		reading, err := parseCSVRecord(rec, index)
		if err != nil {
			res.Invalid++
			logger.Debug("skipping csv row", zap.Int("line", line), zap.Error(err))
			continue
		}
		batch = append(batch, reading)
		if len(batch) == csvBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	if res.Rows > 0 && res.Invalid == res.Rows {
		return res, errors.New("no row has a parsable datetime")
	}
	logger.Info("csv backfill complete",
		zap.Int("rows", res.Rows),
		zap.Int("inserted", res.Inserted),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

func parseCSVRecord(rec []string, index map[string]int) (weather.Reading, error) {
	get := func(field string) string {
		i, ok := index[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ts, err := parseCSVTime(get("timestamp"))
	if err != nil {
		return weather.Reading{}, err
	}
	r := weather.Reading{
		StationID:   get("station_id"),
		City:        get("city"),
		Country:     get("country"),
		Timestamp:   ts,
		Description: get("description"),
	}
	if r.StationID == "" {
		return weather.Reading{}, errors.New("empty station_id")
	}
	if r.Description == "" {
		r.Description = weather.DefaultDescription
	}

	if r.Temperature, err = parseOptionalFloat(get("temperature")); err != nil {
		return weather.Reading{}, fmt.Errorf("temperature: %w", err)
	}
	if r.WindSpeed, err = parseOptionalFloat(get("wind_speed")); err != nil {
		return weather.Reading{}, fmt.Errorf("wind speed: %w", err)
	}
	hum, err := parseOptionalFloat(get("humidity"))
	if err != nil {
		return weather.Reading{}, fmt.Errorf("humidity: %w", err)
	}
	if hum != nil {
		r.Humidity = weather.Int(int(math.Round(*hum)))
	}
	return r, nil
}

func parseCSVTime(s string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable datetime %q", s)
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
