package weather

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration is returned when a location or credential is unusable.
	ErrConfiguration = errors.New("invalid provider configuration")

	// ErrProviderUnavailable marks provider failures that mean "no new data right now".
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidMetric is returned for metrics outside the allow-list.
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrInvalidStatistic is returned for statistics outside the allow-list.
	ErrInvalidStatistic = errors.New("invalid statistic")

	// ErrInvalidDateRange is returned when start is after end.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrAggregateConflict is returned when merging per-metric results yields two
	// different values for the same group and column.
	ErrAggregateConflict = errors.New("conflicting aggregate values")

	// ErrDuplicateReading is returned when a single insert hits an existing (station, timestamp).
	ErrDuplicateReading = errors.New("reading already exists")

	// ErrStore wraps storage failures other than an expected duplicate skip.
	ErrStore = errors.New("store error")
)

// ProviderUnavailableError describes a single failed provider call.
type ProviderUnavailableError struct {
	Provider   string
	Endpoint   string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Endpoint, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Endpoint, e.Err)
	}
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// Is lets callers match any provider failure with errors.Is(err, ErrProviderUnavailable).
func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// Retryable reports whether repeating the call may succeed: transport failures,
// rate limiting and server errors. Client errors and malformed payloads are final.
func (e *ProviderUnavailableError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}
