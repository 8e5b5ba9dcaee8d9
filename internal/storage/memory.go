package storage

import (
	"context"
	"sort"
	"sync"

	"aitia/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	configs     map[string]model.RunConfig
	history     map[string][]model.StepDiagnostics
	posteriors  map[string]model.PosteriorRecord
	metrics     map[string]model.MetricsRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.configs = make(map[string]model.RunConfig)
	s.history = make(map[string][]model.StepDiagnostics)
	s.posteriors = make(map[string]model.PosteriorRecord)
	s.metrics = make(map[string]model.MetricsRecord)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

func (s *MemoryStore) SaveRunConfig(_ context.Context, cfg model.RunConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[cfg.RunID] = cfg
	return nil
}

func (s *MemoryStore) GetRunConfig(_ context.Context, runID string) (model.RunConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[runID]
	return cfg, ok, nil
}

func (s *MemoryStore) ListRunIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, runID string, history []model.StepDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.StepDiagnostics, len(history))
	copy(copied, history)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) ([]model.StepDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.StepDiagnostics, len(history))
	copy(copied, history)
	return copied, true, nil
}

func (s *MemoryStore) SavePosterior(_ context.Context, record model.PosteriorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posteriors[posteriorKey(record.RunID, record.Kind)] = record
	return nil
}

func (s *MemoryStore) GetPosterior(_ context.Context, runID, kind string) (model.PosteriorRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.posteriors[posteriorKey(runID, kind)]
	return record, ok, nil
}

func (s *MemoryStore) SaveMetrics(_ context.Context, record model.MetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetMetrics(_ context.Context, runID string) (model.MetricsRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.metrics[runID]
	return record, ok, nil
}

func posteriorKey(runID, kind string) string {
	return runID + "/" + kind
}
