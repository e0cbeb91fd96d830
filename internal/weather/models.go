package weather

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout readings are persisted with.
// Lexical order of formatted values equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05Z"

// DefaultDescription is stored when the provider omits a weather description.
const DefaultDescription = "N/A"

// LocationSpec is a configured place we ingest provider data for.
type LocationSpec struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Key returns a canonical string key for logging and indexing.
func (l LocationSpec) Key() string {
	return l.City + ":" + l.Country
}

// Reading is one observation for one station at one instant.
// (StationID, Timestamp) is unique in the store.
type Reading struct {
	StationID   string    `json:"station_id"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Timestamp   time.Time `json:"timestamp"` // UTC, second precision
	Temperature *float64  `json:"temperature"`
	Humidity    *int      `json:"humidity"`
	WindSpeed   *float64  `json:"wind_speed"`
	Description string    `json:"description"`
}

// StationID derives a stable station identity from a city name and coordinates.
// Coordinates are rounded to two decimals so current and forecast payloads for
// the same city resolve to the same station.
func StationID(city string, lat, lon float64) string {
	return fmt.Sprintf("%s_%s_%s",
		strings.ToUpper(strings.TrimSpace(city)),
		formatCoord(lat),
		formatCoord(lon),
	)
}

func formatCoord(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// StalenessPolicy decides when the latest stored reading is too old to serve.
type StalenessPolicy struct {
	Threshold time.Duration
}

// DefaultStalenessThreshold is used when no threshold is configured.
const DefaultStalenessThreshold = 10 * time.Minute

// IsStale reports whether a reading taken at latest is older than the threshold at now.
func (p StalenessPolicy) IsStale(latest, now time.Time) bool {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return now.Sub(latest) > threshold
}

// Outcome is the per-location result of an ingestion pass.
type Outcome struct {
	Location      LocationSpec `json:"location"`
	InsertedCount int          `json:"inserted_count"`
	Skipped       bool         `json:"skipped"`
	Err           error        `json:"-"`
}

// Failed reports whether no data could be ingested for the location because of an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Float64 returns a pointer to v, for optional reading fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
