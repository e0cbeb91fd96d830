package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-metrics/internal/weather"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 10*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 30*time.Second, cfg.PassTimeout)
	assert.Equal(t, time.Duration(0), cfg.RefreshInterval)
	assert.Equal(t, 2, cfg.IngestMaxRetries)
	assert.Equal(t, 4, cfg.IngestConcurrency)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []weather.LocationSpec{
		{City: "Dublin", Country: "Ireland"},
		{City: "Galway", Country: "Ireland"},
	}, cfg.Locations)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "  secret ")
	t.Setenv("WEATHER_LOCATION_CITY", "Cork, Paris")
	t.Setenv("WEATHER_LOCATION_COUNTRY", "IE,FR")
	t.Setenv("STALENESS_THRESHOLD", "5m")
	t.Setenv("REFRESH_INTERVAL", "15m")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.OpenWeatherAPIKey)
	assert.Equal(t, 5*time.Minute, cfg.StalenessThreshold)
	assert.Equal(t, 15*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, []weather.LocationSpec{
		{City: "Cork", Country: "IE"},
		{City: "Paris", Country: "FR"},
	}, cfg.Locations)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "STALENESS_THRESHOLD", "soon"},
		{"zero threshold", "STALENESS_THRESHOLD", "0"},
		{"bad timeout", "HTTP_TIMEOUT", "ten"},
		{"bad retries", "INGEST_MAX_RETRIES", "many"},
		{"negative concurrency", "INGEST_CONCURRENCY", "-1"},
		{"unknown backend", "STORE_BACKEND", "duckdb"},
		{"unknown env", "APP_ENV", "staging"},
		{"mismatched locations", "WEATHER_LOCATION_COUNTRY", "Ireland"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
