package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/weather-metrics/internal/weather"
)

// Backend is a weather.Store with the lifecycle and maintenance operations
// the commands need.
type Backend interface {
	weather.Store
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// New opens the configured backend. path is ignored for the memory backend.
func New(ctx context.Context, backend, path string, logger *zap.Logger) (Backend, error) {
	switch backend {
	case "", BackendSQLite:
		return Open(ctx, path, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (allowed: sqlite, memory)", backend)
	}
}
