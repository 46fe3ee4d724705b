// Package plumetrack is the embeddable client API: it owns a store and a
// lab and exposes the training, evaluation, and artifact operations the
// CLI is built on.
package plumetrack

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
	"plumetrack/internal/platform"
	"plumetrack/internal/stats"
	"plumetrack/internal/storage"
	"plumetrack/internal/train"
)

const (
	defaultDBPath       = "plumetrack.db"
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *zap.Logger
}

type Client struct {
	store        storage.Store
	lab          *platform.Lab
	logger       *zap.Logger
	artifactsDir string
	exportsDir   string
}

type TrainRequest struct {
	RunID   string
	Config  config.Config
	Control chan train.Command
}

type TrainSummary struct {
	RunID            string
	ArtifactsDir     string
	Iterations       int
	FinalMeanReturn  float64
	FinalSuccessRate float64
	Stopped          bool
	Plateaued        bool
}

type EvaluateRequest struct {
	RunID    string
	Latest   bool
	Policy   string
	Config   config.Config
	Episodes int
	Workers  int
	Seed     int64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Algorithm        string
	GridWidth        int
	GridHeight       int
	Iterations       int
	Seed             int64
	Workers          int
	FinalMeanReturn  float64
	FinalSuccessRate float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type CheckpointRequest struct {
	RunID     string
	Latest    bool
	Iteration int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       opts.Logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureLab(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	lab, err := c.ensureLab(ctx)
	if err != nil {
		return err
	}
	return lab.Reset(ctx)
}

// Train runs one training run to completion and returns its summary. A
// zero-valued Config falls back to the defaults.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.Config == (config.Config{}) {
		req.Config = config.Default()
	}
	if err := req.Config.Validate(); err != nil {
		return TrainSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%s", req.Config.Algorithm, req.Config.Seed, uuid.NewString())
	}

	lab, err := c.ensureLab(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	result, err := lab.RunTraining(ctx, platform.TrainingConfig{
		RunID:   runID,
		Run:     req.Config,
		Control: req.Control,
	})
	if err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{
		RunID:        result.RunID,
		ArtifactsDir: filepath.Clean(filepath.Join(c.artifactsDir, result.RunID)),
		Iterations:   len(result.History),
		Stopped:      result.Stopped,
		Plateaued:    result.Plateaued,
	}
	if n := len(result.History); n > 0 {
		summary.FinalMeanReturn = result.History[n-1].MeanReturn
		summary.FinalSuccessRate = result.History[n-1].SuccessRate
	}
	return summary, nil
}

// Evaluate measures a stored run's latest checkpoint, or a heuristic
// baseline when Policy is set instead of a run id.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (model.EvalReport, error) {
	if req.RunID != "" && req.Latest {
		return model.EvalReport{}, errors.New("use either run id or latest")
	}
	if req.Episodes <= 0 {
		req.Episodes = 20
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return model.EvalReport{}, err
		}
		runID = latest
	}
	if runID == "" && req.Policy == "" {
		return model.EvalReport{}, errors.New("evaluate requires run id, latest, or policy")
	}
	if req.Policy != "" && req.Config == (config.Config{}) {
		req.Config = config.Default()
	}

	lab, err := c.ensureLab(ctx)
	if err != nil {
		return model.EvalReport{}, err
	}
	return lab.EvaluateRun(ctx, platform.EvaluationConfig{
		RunID:    runID,
		Policy:   req.Policy,
		Run:      req.Config,
		Episodes: req.Episodes,
		Workers:  req.Workers,
		Seed:     req.Seed,
	})
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Algorithm:        e.Algorithm,
			GridWidth:        e.GridWidth,
			GridHeight:       e.GridHeight,
			Iterations:       e.Iterations,
			Seed:             e.Seed,
			Workers:          e.Workers,
			FinalMeanReturn:  e.FinalMeanReturn,
			FinalSuccessRate: e.FinalSuccessRate,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return ExportSummary{}, err
		}
		runID = latest
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.TrainingRecord, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return nil, err
		}
		runID = latest
	}
	if runID == "" {
		return nil, errors.New("history requires run id or latest")
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetTrainingHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("training history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}
	out := make([]model.TrainingRecord, len(history))
	copy(out, history)
	return out, nil
}

func (c *Client) Checkpoint(ctx context.Context, req CheckpointRequest) (model.PolicyCheckpoint, error) {
	if req.RunID != "" && req.Latest {
		return model.PolicyCheckpoint{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return model.PolicyCheckpoint{}, err
		}
		runID = latest
	}
	if runID == "" {
		return model.PolicyCheckpoint{}, errors.New("checkpoint requires run id or latest")
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return model.PolicyCheckpoint{}, err
	}
	if req.Iteration > 0 {
		cp, ok, err := c.store.GetCheckpoint(ctx, runID, req.Iteration)
		if err != nil {
			return model.PolicyCheckpoint{}, err
		}
		if !ok {
			return model.PolicyCheckpoint{}, fmt.Errorf("checkpoint not found: %s/%d", runID, req.Iteration)
		}
		return cp, nil
	}
	cp, ok, err := c.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return model.PolicyCheckpoint{}, err
	}
	if !ok {
		return model.PolicyCheckpoint{}, fmt.Errorf("no checkpoints for run id: %s", runID)
	}
	return cp, nil
}

func (c *Client) PauseRun(runID string) error {
	if c.lab == nil {
		return errors.New("lab is not initialized")
	}
	return c.lab.PauseRun(runID)
}

func (c *Client) ContinueRun(runID string) error {
	if c.lab == nil {
		return errors.New("lab is not initialized")
	}
	return c.lab.ContinueRun(runID)
}

func (c *Client) StopRun(runID string) error {
	if c.lab == nil {
		return errors.New("lab is not initialized")
	}
	return c.lab.StopRun(runID)
}

func (c *Client) latestRunID() (string, error) {
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensureLab(ctx context.Context) (*platform.Lab, error) {
	if c.lab != nil {
		return c.lab, nil
	}
	lab := platform.NewLab(platform.Config{
		Store:        c.store,
		Logger:       c.logger,
		ArtifactsDir: c.artifactsDir,
	})
	if err := lab.Init(ctx); err != nil {
		return nil, err
	}
	c.lab = lab
	return c.lab, nil
}
