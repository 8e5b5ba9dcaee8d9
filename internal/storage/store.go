package storage

import (
	"context"
	"fmt"
	"strings"

	"aitia/internal/model"
)

// Store defines persistence operations for inference runs and their results.
type Store interface {
	Init(ctx context.Context) error
	SaveRunConfig(ctx context.Context, cfg model.RunConfig) error
	GetRunConfig(ctx context.Context, runID string) (model.RunConfig, bool, error)
	ListRunIDs(ctx context.Context) ([]string, error)
	SaveHistory(ctx context.Context, runID string, history []model.StepDiagnostics) error
	GetHistory(ctx context.Context, runID string) ([]model.StepDiagnostics, bool, error)
	SavePosterior(ctx context.Context, record model.PosteriorRecord) error
	GetPosterior(ctx context.Context, runID, kind string) (model.PosteriorRecord, bool, error)
	SaveMetrics(ctx context.Context, record model.MetricsRecord) error
	GetMetrics(ctx context.Context, runID string) (model.MetricsRecord, bool, error)
}

// Resetter is implemented by backends that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}

// NewStore builds the named backend. The empty kind means memory; the sqlite
// backend needs the `sqlite` build tag and its constructor reports an error
// without it.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.TrimSpace(kind) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	}
	return nil, fmt.Errorf("unsupported store backend: %s", kind)
}

// CloseIfSupported closes backends that hold external resources; the memory
// backend has none and is a no-op.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
