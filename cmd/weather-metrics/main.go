package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/config"
	"github.com/i474232898/weather-metrics/internal/logging"
	"github.com/i474232898/weather-metrics/internal/store"
	"github.com/i474232898/weather-metrics/internal/weather"
	"github.com/i474232898/weather-metrics/internal/weather/providers"
)

var (
	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "weather-metrics",
	Short: "Weather readings ingestion and query API",
	Long: `weather-metrics ingests current and forecast readings from OpenWeatherMap
into an embedded store and serves latest-per-station and aggregate queries,
refreshing stale data on demand.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = logging.New(cfg.AppEnv, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components are the wired pieces shared by the commands.
type components struct {
	store   store.Backend
	service *weather.Service
}

func buildComponents(ctx context.Context) (*components, error) {
	st, err := store.New(ctx, cfg.StoreBackend, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	provider := providers.NewOpenWeatherProvider(httpClient, providers.OpenWeatherConfig{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		Units:   cfg.OpenWeatherUnits,
		Breaker: providers.DefaultBreakerConfig,
	}, logger)

	retry := weather.DefaultRetryPolicy
	retry.MaxRetries = cfg.IngestMaxRetries

	coordinator := weather.NewCoordinator(provider, st, logger,
		weather.WithRetryPolicy(retry),
		weather.WithConcurrency(cfg.IngestConcurrency),
	)

	service := weather.NewService(st, coordinator, cfg.Locations,
		weather.WithStalenessPolicy(weather.StalenessPolicy{Threshold: cfg.StalenessThreshold}),
		weather.WithPassTimeout(cfg.PassTimeout),
		weather.WithLogger(logger),
	)

	return &components{store: st, service: service}, nil
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}
