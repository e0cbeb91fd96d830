package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/weather"
)

const (
	// DefaultOpenWeatherBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
	defaultUnits              = "metric"
)

// OpenWeatherConfig configures the OpenWeatherMap client.
type OpenWeatherConfig struct {
	APIKey  string
	BaseURL string
	Units   string
	Breaker BreakerConfig
}

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	units   string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewOpenWeatherProvider creates a provider. The client's Timeout bounds every call.
func NewOpenWeatherProvider(client *http.Client, cfg OpenWeatherConfig, logger *zap.Logger) *OpenWeatherProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenWeatherBaseURL
	}
	units := strings.TrimSpace(cfg.Units)
	if units == "" {
		units = defaultUnits
	}
	breaker := cfg.Breaker
	if breaker == (BreakerConfig{}) {
		breaker = DefaultBreakerConfig
	}

	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		units:   units,
		client:  client,
		circuit: newBreaker("openweather", breaker),
		logger:  logger.With(zap.String("provider", "openweathermap")),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type owCoord struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type owEntry struct {
	Dt   *int64 `json:"dt"`
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Coord *owCoord `json:"coord"`
}

type owForecast struct {
	List []json.RawMessage `json:"list"`
	City struct {
		Coord *owCoord `json:"coord"`
	} `json:"city"`
}

// FetchCurrent fetches the current conditions for loc.
func (p *OpenWeatherProvider) FetchCurrent(ctx context.Context, loc weather.LocationSpec) (weather.Reading, error) {
	u, err := p.endpointURL("weather", loc)
	if err != nil {
		return weather.Reading{}, err
	}

	body, err := doRequest(ctx, p.client, p.circuit, p.name, "current", u)
	if err != nil {
		return weather.Reading{}, err
	}

	var payload owEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return weather.Reading{}, p.malformed("current", fmt.Errorf("decode payload: %w", err))
	}
	stationID, err := stationFromCoord(loc, payload.Coord)
	if err != nil {
		return weather.Reading{}, p.malformed("current", err)
	}

	r, err := normalizeEntry(payload, stationID, loc)
	if err != nil {
		return weather.Reading{}, p.malformed("current", err)
	}
	return r, nil
}

// FetchForecast fetches the multi-step forecast for loc. All entries share the
// station identity of the forecast's city coordinates. Entries that cannot be
// decoded are logged and skipped.
func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, loc weather.LocationSpec) ([]weather.Reading, error) {
	u, err := p.endpointURL("forecast", loc)
	if err != nil {
		return nil, err
	}

	body, err := doRequest(ctx, p.client, p.circuit, p.name, "forecast", u)
	if err != nil {
		return nil, err
	}

	var payload owForecast
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, p.malformed("forecast", fmt.Errorf("decode payload: %w", err))
	}
	stationID, err := stationFromCoord(loc, payload.City.Coord)
	if err != nil {
		return nil, p.malformed("forecast", err)
	}

	readings := make([]weather.Reading, 0, len(payload.List))
	for i, raw := range payload.List {
		var entry owEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			p.logger.Warn("skipping undecodable forecast entry",
				zap.String("location", loc.Key()), zap.Int("index", i), zap.Error(err))
			continue
		}
		r, err := normalizeEntry(entry, stationID, loc)
		if err != nil {
			p.logger.Warn("skipping forecast entry",
				zap.String("location", loc.Key()), zap.Int("index", i), zap.Error(err))
			continue
		}
		readings = append(readings, r)
	}

	if len(readings) == 0 {
		p.logger.Info("forecast returned no entries", zap.String("location", loc.Key()))
	}
	return readings, nil
}

func (p *OpenWeatherProvider) endpointURL(path string, loc weather.LocationSpec) (string, error) {
	city := strings.TrimSpace(loc.City)
	if city == "" {
		return "", fmt.Errorf("%w: location name is empty", weather.ErrConfiguration)
	}
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: openweather api key is not configured", weather.ErrConfiguration)
	}

	q := city
	// OpenWeather only understands ISO 3166 country codes in q.
	if country := strings.TrimSpace(loc.Country); len(country) == 2 {
		q = city + "," + country
	}

	values := url.Values{}
	values.Set("q", q)
	values.Set("units", p.units)
	values.Set("appid", p.apiKey)
	return fmt.Sprintf("%s/%s?%s", p.baseURL, path, values.Encode()), nil
}

func (p *OpenWeatherProvider) malformed(endpoint string, err error) error {
	return &weather.ProviderUnavailableError{
		Provider:   p.name,
		Endpoint:   endpoint,
		StatusCode: http.StatusOK,
		Err:        err,
	}
}

func stationFromCoord(loc weather.LocationSpec, c *owCoord) (string, error) {
	if c == nil || c.Lat == nil || c.Lon == nil {
		return "", errors.New("payload has no coordinates")
	}
	return weather.StationID(loc.City, *c.Lat, *c.Lon), nil
}

// normalizeEntry maps one provider entry onto a Reading. dt is epoch seconds
// and is always interpreted as UTC.
func normalizeEntry(e owEntry, stationID string, loc weather.LocationSpec) (weather.Reading, error) {
	if e.Dt == nil || *e.Dt <= 0 {
		return weather.Reading{}, errors.New("entry has no dt")
	}

	r := weather.Reading{
		StationID:   stationID,
		City:        strings.TrimSpace(loc.City),
		Country:     strings.TrimSpace(loc.Country),
		Timestamp:   time.Unix(*e.Dt, 0).UTC(),
		Temperature: e.Main.Temp,
		WindSpeed:   e.Wind.Speed,
		Description: weather.DefaultDescription,
	}
	if e.Main.Humidity != nil {
		r.Humidity = weather.Int(int(math.Round(*e.Main.Humidity)))
	}
	if len(e.Weather) > 0 && e.Weather[0].Description != "" {
		r.Description = e.Weather[0].Description
	}
	return r, nil
}
