package storage

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]RunRecord
	metrics map[string]map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]RunRecord)
	s.metrics = make(map[string]map[string][]float64)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, record RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[record.ID] = record
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.runs[id]
	return record, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		runs = append(runs, record)
	}
	SortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.metrics, id)
	return nil
}

func (s *MemoryStore) SaveMetricHistory(_ context.Context, runID, name string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.metrics[runID]
	if !ok {
		byName = make(map[string][]float64)
		s.metrics[runID] = byName
	}
	byName[name] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetMetricHistory(_ context.Context, runID, name string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName, ok := s.metrics[runID]
	if !ok {
		return nil, false, nil
	}
	history, ok := byName[name]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}
