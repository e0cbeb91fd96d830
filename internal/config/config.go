package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-metrics/internal/common"
	"github.com/i474232898/weather-metrics/internal/weather"
)

type AppConfig struct {
	AppEnv   string
	LogLevel string

	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenWeatherUnits   string

	// Locations ingested on every pass.
	Locations []weather.LocationSpec

	// StalenessThreshold is the maximum age of the newest reading before a
	// query triggers an ingestion pass.
	StalenessThreshold time.Duration

	HTTPTimeout       time.Duration // per provider call
	PassTimeout       time.Duration // per ingestion pass
	IngestMaxRetries  int
	IngestConcurrency int

	// RefreshInterval enables the background refresher when > 0.
	RefreshInterval time.Duration

	StoreBackend string // sqlite or memory
	DBPath       string
	BackfillCSV  string

	Port string
}

var defaults = map[string]string{
	"APP_ENV":                  "dev",
	"LOG_LEVEL":                "info",
	"OPENWEATHER_BASE_URL":     "https://api.openweathermap.org/data/2.5",
	"OPENWEATHER_UNITS":        "metric",
	"WEATHER_LOCATION_CITY":    "Dublin,Galway",
	"WEATHER_LOCATION_COUNTRY": "Ireland,Ireland",
	"STALENESS_THRESHOLD":      "10m",
	"HTTP_TIMEOUT":             "10s",
	"INGEST_PASS_TIMEOUT":      "30s",
	"INGEST_MAX_RETRIES":       "2",
	"INGEST_CONCURRENCY":       "4",
	"REFRESH_INTERVAL":         "0",
	"STORE_BACKEND":            "sqlite",
	"DB_PATH":                  "data/weather.db",
	"PORT":                     "8080",
}

// Load reads configuration from the environment (and a .env file when present)
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	cfg := &AppConfig{
		AppEnv:             strings.TrimSpace(v.GetString("APP_ENV")),
		LogLevel:           strings.TrimSpace(v.GetString("LOG_LEVEL")),
		OpenWeatherAPIKey:  strings.TrimSpace(v.GetString("OPENWEATHER_API_KEY")),
		OpenWeatherBaseURL: strings.TrimSpace(v.GetString("OPENWEATHER_BASE_URL")),
		OpenWeatherUnits:   strings.TrimSpace(v.GetString("OPENWEATHER_UNITS")),
		StoreBackend:       strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		DBPath:             strings.TrimSpace(v.GetString("DB_PATH")),
		BackfillCSV:        strings.TrimSpace(v.GetString("BACKFILL_CSV")),
		Port:               strings.TrimSpace(v.GetString("PORT")),
	}

	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}
	switch cfg.StoreBackend {
	case "sqlite", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q (allowed: sqlite, memory)", cfg.StoreBackend)
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STALENESS_THRESHOLD", &cfg.StalenessThreshold},
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"INGEST_PASS_TIMEOUT", &cfg.PassTimeout},
		{"REFRESH_INTERVAL", &cfg.RefreshInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(v, d.key); err != nil {
			return nil, err
		}
	}
	if cfg.StalenessThreshold <= 0 {
		return nil, fmt.Errorf("invalid STALENESS_THRESHOLD: must be positive")
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: must be positive")
	}

	if cfg.IngestMaxRetries, err = getInt(v, "INGEST_MAX_RETRIES"); err != nil {
		return nil, err
	}
	if cfg.IngestConcurrency, err = getInt(v, "INGEST_CONCURRENCY"); err != nil {
		return nil, err
	}

	locs, err := loadLocations(v.GetString("WEATHER_LOCATION_CITY"), v.GetString("WEATHER_LOCATION_COUNTRY"))
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	return cfg, nil
}

func loadLocations(city, country string) ([]weather.LocationSpec, error) {
	cities := common.SplitList(city)
	countries := common.SplitList(country)
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities (%d) and countries (%d) must be the same", len(cities), len(countries))
	}

	locs := make([]weather.LocationSpec, 0, len(cities))
	for i := range cities {
		locs = append(locs, weather.LocationSpec{
			City:    cities[i],
			Country: countries[i],
		})
	}
	return locs, nil
}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}
