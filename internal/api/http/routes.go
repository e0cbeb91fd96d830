package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/common"
	"github.com/i474232898/weather-metrics/internal/weather"
)

var validate = validator.New()

// APIPrefix is the versioned mount point. The same handlers are also served
// at the root for existing clients.
const APIPrefix = "/api/v1"

// RegisterRoutes wires the HTTP handlers into the Fiber app under APIPrefix
// and at the root.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	registerRoutes(app.Group(APIPrefix), service)
	registerRoutes(app, service)
}

func registerRoutes(app fiber.Router, service *weather.Service) {
	app.Get("/sensors", func(c *fiber.Ctx) error {
		readings, err := service.LatestPerStation(c.UserContext(), queryList(c, "station_ids"))
		if err != nil {
			return err
		}
		return c.JSON(readings)
	})

	app.Get("/metrics/average", func(c *fiber.Ctx) error {
		q, err := bindStatQuery(c, "metrics")
		if err != nil {
			return err
		}
		rows, err := service.MetricsAverage(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(rows)
	})

	app.Get("/metrics/stat", func(c *fiber.Ctx) error {
		q, err := bindStatQuery(c, "metric")
		if err != nil {
			return err
		}
		q.Stat = c.Query("stat")
		rows, err := service.MetricStats(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(rows)
	})

	app.Post("/metrics/stat", func(c *fiber.Ctx) error {
		var req statRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		q, err := req.toQuery()
		if err != nil {
			return err
		}
		rows, err := service.MetricStats(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(rows)
	})

	app.Post("/metrics", func(c *fiber.Ctx) error {
		var req readingRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reading := req.toReading()
		if err := service.InsertReading(c.UserContext(), reading); err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message":    "reading stored",
			"station_id": reading.StationID,
			"timestamp":  reading.Timestamp.UTC().Format(weather.TimestampLayout),
		})
	})
}

// ErrorHandler maps domain errors to status codes. Unexpected errors are
// logged in full and answered with a generic message.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			code = fe.Code
			message = fe.Message
		case errors.Is(err, weather.ErrInvalidMetric),
			errors.Is(err, weather.ErrInvalidStatistic),
			errors.Is(err, weather.ErrInvalidDateRange):
			code = fiber.StatusBadRequest
			message = err.Error()
		case errors.Is(err, weather.ErrDuplicateReading):
			code = fiber.StatusConflict
			message = err.Error()
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			message = "internal server error"
		}

		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": message,
		})
	}
}

// statRequest is the JSON body of POST /metrics/stat.
type statRequest struct {
	Metrics    []string `json:"metrics" validate:"required,min=1,dive,required"`
	Stat       string   `json:"stat" validate:"required"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	City       string   `json:"city"`
	StationIDs []string `json:"station_ids"`
}

func (r statRequest) toQuery() (weather.StatQuery, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return weather.StatQuery{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return weather.StatQuery{}, err
	}
	return weather.StatQuery{
		Metrics:    common.SplitList(r.Metrics...),
		Stat:       strings.TrimSpace(r.Stat),
		Start:      start,
		End:        end,
		StationIDs: common.SplitList(r.StationIDs...),
		City:       r.City,
	}, nil
}

// readingRequest is the JSON body of POST /metrics.
type readingRequest struct {
	StationID   string    `json:"station_id" validate:"required,max=128"`
	City        string    `json:"city" validate:"required,max=128"`
	Country     string    `json:"country" validate:"required,max=128"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Temperature *float64  `json:"temperature" validate:"omitempty,gte=-273.15"`
	Humidity    *int      `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	WindSpeed   *float64  `json:"wind_speed" validate:"omitempty,gte=0"`
	Description string    `json:"description" validate:"max=255"`
}

func (r readingRequest) toReading() weather.Reading {
	return weather.Reading{
		StationID:   strings.TrimSpace(r.StationID),
		City:        strings.TrimSpace(r.City),
		Country:     strings.TrimSpace(r.Country),
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		WindSpeed:   r.WindSpeed,
		Description: strings.TrimSpace(r.Description),
	}
}

func bindStatQuery(c *fiber.Ctx, metricsKey string) (weather.StatQuery, error) {
	start, err := parseDate("start_date", c.Query("start_date"))
	if err != nil {
		return weather.StatQuery{}, err
	}
	end, err := parseDate("end_date", c.Query("end_date"))
	if err != nil {
		return weather.StatQuery{}, err
	}
	return weather.StatQuery{
		Metrics:    queryList(c, metricsKey),
		Start:      start,
		End:        end,
		StationIDs: queryList(c, "station_ids"),
		City:       c.Query("city"),
	}, nil
}

// queryList collects a list parameter given either as repeated keys or as
// comma-separated values.
func queryList(c *fiber.Ctx, key string) []string {
	raw := c.Context().QueryArgs().PeekMulti(key)
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		values = append(values, string(v))
	}
	return common.SplitList(values...)
}

// parseDate parses an optional YYYY-MM-DD value as a UTC day.
func parseDate(name, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s %q; use YYYY-MM-DD", name, s))
	}
	return &t, nil
}
