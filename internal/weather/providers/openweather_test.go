package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-metrics/internal/weather"
)

const currentPayload = `{
	"coord": {"lon": -6.2603, "lat": 53.3498},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain"}],
	"main": {"temp": 9.4, "humidity": 86.6},
	"wind": {"speed": 5.1},
	"dt": 1700000000,
	"name": "Dublin"
}`

const forecastPayload = `{
	"list": [
		{"dt": 1700010800, "main": {"temp": 8.1, "humidity": 90}, "wind": {"speed": 4.2}, "weather": [{"description": "overcast clouds"}]},
		{"dt": "not-a-number", "main": {"temp": 7.0}},
		{"main": {"temp": 6.5}},
		{"dt": 1700021600, "main": {}, "wind": {}, "weather": []}
	],
	"city": {"name": "Dublin", "coord": {"lat": 53.3498, "lon": -6.2603}}
}`

var dublin = weather.LocationSpec{City: "Dublin", Country: "IE"}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenWeatherProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenWeatherProvider(srv.Client(), OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, nil)
}

func TestFetchCurrent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "Dublin,IE", r.URL.Query().Get("q"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		_, _ = w.Write([]byte(currentPayload))
	})

	r, err := p.FetchCurrent(context.Background(), dublin)
	require.NoError(t, err)

	assert.Equal(t, "DUBLIN_53.35_-6.26", r.StationID)
	assert.Equal(t, "Dublin", r.City)
	assert.Equal(t, "IE", r.Country)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), r.Timestamp)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	require.NotNil(t, r.Temperature)
	assert.InDelta(t, 9.4, *r.Temperature, 1e-9)
	require.NotNil(t, r.Humidity)
	assert.Equal(t, 87, *r.Humidity)
	require.NotNil(t, r.WindSpeed)
	assert.InDelta(t, 5.1, *r.WindSpeed, 1e-9)
	assert.Equal(t, "light rain", r.Description)
}

func TestFetchCurrent_FullCountryNameIsNotSentAsCode(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Galway", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(currentPayload))
	})

	_, err := p.FetchCurrent(context.Background(), weather.LocationSpec{City: "Galway", Country: "Ireland"})
	require.NoError(t, err)
}

func TestFetchForecast(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		_, _ = w.Write([]byte(forecastPayload))
	})

	readings, err := p.FetchForecast(context.Background(), dublin)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	first := readings[0]
	assert.Equal(t, "DUBLIN_53.35_-6.26", first.StationID)
	assert.Equal(t, time.Unix(1700010800, 0).UTC(), first.Timestamp)
	assert.Equal(t, "overcast clouds", first.Description)
	assert.Equal(t, 90, *first.Humidity)

	// missing measurements are absent, not zero
	second := readings[1]
	assert.Nil(t, second.Temperature)
	assert.Nil(t, second.Humidity)
	assert.Nil(t, second.WindSpeed)
	assert.Equal(t, weather.DefaultDescription, second.Description)
}

func TestFetch_ServerErrorIsProviderUnavailable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	_, err := p.FetchCurrent(context.Background(), dublin)
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable)

	var pe *weather.ProviderUnavailableError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.Contains(t, pe.Body, "upstream exploded")
	assert.True(t, pe.Retryable())
	assert.NotContains(t, err.Error(), "test-key")
}

func TestFetch_ClientErrorIsNotRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
	})

	_, err := p.FetchForecast(context.Background(), dublin)
	var pe *weather.ProviderUnavailableError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.False(t, pe.Retryable())
}

func TestFetch_MalformedPayload(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"main": {"temp": 3}}`))
	})

	_, err := p.FetchCurrent(context.Background(), dublin)
	var pe *weather.ProviderUnavailableError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusOK, pe.StatusCode)
	assert.False(t, pe.Retryable())

	_, err = p.FetchForecast(context.Background(), dublin)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable)
}

func TestFetch_ConfigurationErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	noKey := NewOpenWeatherProvider(srv.Client(), OpenWeatherConfig{BaseURL: srv.URL}, nil)
	_, err := noKey.FetchCurrent(context.Background(), dublin)
	assert.ErrorIs(t, err, weather.ErrConfiguration)

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err = p.FetchForecast(context.Background(), weather.LocationSpec{City: "  ", Country: "IE"})
	assert.ErrorIs(t, err, weather.ErrConfiguration)

	assert.Equal(t, int32(0), hits.Load())
}

func TestFetch_TimeoutIsProviderUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	p := NewOpenWeatherProvider(client, OpenWeatherConfig{APIKey: "secret-key", BaseURL: srv.URL}, nil)

	_, err := p.FetchCurrent(context.Background(), dublin)
	require.Error(t, err)

	var pe *weather.ProviderUnavailableError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.StatusCode)
	assert.True(t, pe.Retryable())
	assert.False(t, strings.Contains(err.Error(), "secret-key"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Breaker: BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
	}, nil)

	for i := 0; i < 4; i++ {
		_, err := p.FetchCurrent(context.Background(), dublin)
		assert.ErrorIs(t, err, weather.ErrProviderUnavailable)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Breaker: BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
	}, nil)

	for i := 0; i < 4; i++ {
		_, _ = p.FetchCurrent(context.Background(), dublin)
	}
	assert.Equal(t, int32(4), hits.Load())
}
