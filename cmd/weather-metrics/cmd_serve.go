package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-metrics/internal/api/http"
	"github.com/i474232898/weather-metrics/internal/scheduler"
	"github.com/i474232898/weather-metrics/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query API",
	Long: `Start the HTTP query API. When BACKFILL_CSV is set the file is loaded first;
when REFRESH_INTERVAL is positive a background refresher also runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	defer comps.Close()

	if cfg.BackfillCSV != "" {
		if _, err := store.LoadCSVFile(ctx, comps.store, cfg.BackfillCSV, logger); err != nil {
			logger.Error("startup backfill failed", zap.String("path", cfg.BackfillCSV), zap.Error(err))
		}
	}

	// Scheduler that periodically refreshes readings when enabled.
	sched := scheduler.New(comps.service, cfg.RefreshInterval, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-metrics",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Leaves room for an ingestion pass on the read path.
		WriteTimeout: cfg.PassTimeout + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler(logger),
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-metrics",
		})
	})

	httpapi.RegisterRoutes(app, comps.service)

	go func() {
		logger.Info("listening", zap.String("port", cfg.Port), zap.Int("locations", len(cfg.Locations)))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	return nil
}
