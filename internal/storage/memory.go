package storage

import (
	"context"
	"sort"
	"sync"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
)

type checkpointKey struct {
	runID     string
	iteration int
}

type MemoryStore struct {
	mu          sync.RWMutex
	configs     map[string]config.Config
	checkpoints map[checkpointKey]model.PolicyCheckpoint
	history     map[string][]model.TrainingRecord
	evals       map[string][]model.EvalReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs = make(map[string]config.Config)
	s.checkpoints = make(map[checkpointKey]model.PolicyCheckpoint)
	s.history = make(map[string][]model.TrainingRecord)
	s.evals = make(map[string][]model.EvalReport)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

func (s *MemoryStore) SaveRunConfig(_ context.Context, runID string, cfg config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[runID] = cfg
	return nil
}

func (s *MemoryStore) GetRunConfig(_ context.Context, runID string) (config.Config, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[runID]
	return cfg, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.configs))
	for runID := range s.configs {
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.PolicyCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey{runID: checkpoint.RunID, iteration: checkpoint.Iteration}
	s.checkpoints[key] = checkpoint
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string, iteration int) (model.PolicyCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointKey{runID: runID, iteration: iteration}]
	return cp, ok, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (model.PolicyCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest model.PolicyCheckpoint
	found := false
	for key, cp := range s.checkpoints {
		if key.runID != runID {
			continue
		}
		if !found || cp.Iteration > latest.Iteration {
			latest = cp
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) SaveTrainingHistory(_ context.Context, runID string, history []model.TrainingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.TrainingRecord, len(history))
	copy(copied, history)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetTrainingHistory(_ context.Context, runID string) ([]model.TrainingRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TrainingRecord, len(history))
	copy(copied, history)
	return copied, true, nil
}

func (s *MemoryStore) SaveEvalReports(_ context.Context, runID string, reports []model.EvalReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.EvalReport, len(reports))
	copy(copied, reports)
	s.evals[runID] = copied
	return nil
}

func (s *MemoryStore) GetEvalReports(_ context.Context, runID string) ([]model.EvalReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports, ok := s.evals[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EvalReport, len(reports))
	copy(copied, reports)
	return copied, true, nil
}
