package storage

import (
	"context"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
)

// Store persists run configurations, policy checkpoints, and run metrics.
type Store interface {
	Init(ctx context.Context) error
	SaveRunConfig(ctx context.Context, runID string, cfg config.Config) error
	GetRunConfig(ctx context.Context, runID string) (config.Config, bool, error)
	ListRuns(ctx context.Context) ([]string, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.PolicyCheckpoint) error
	GetCheckpoint(ctx context.Context, runID string, iteration int) (model.PolicyCheckpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.PolicyCheckpoint, bool, error)
	SaveTrainingHistory(ctx context.Context, runID string, history []model.TrainingRecord) error
	GetTrainingHistory(ctx context.Context, runID string) ([]model.TrainingRecord, bool, error)
	SaveEvalReports(ctx context.Context, runID string, reports []model.EvalReport) error
	GetEvalReports(ctx context.Context, runID string) ([]model.EvalReport, bool, error)
}

// Resetter is implemented by stores that can wipe all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}
