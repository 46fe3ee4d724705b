package platform

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
	"plumetrack/internal/plume"
	"plumetrack/internal/policy"
	"plumetrack/internal/search"
	"plumetrack/internal/stats"
	"plumetrack/internal/storage"
	"plumetrack/internal/train"
)

type Config struct {
	Store        storage.Store
	Logger       *zap.Logger
	ArtifactsDir string
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// TrainingConfig names one training run. RunID may be empty, in which
// case the lab derives one from the algorithm and seed.
type TrainingConfig struct {
	RunID   string
	Run     config.Config
	Control chan train.Command
}

type TrainingResult struct {
	RunID       string
	History     []model.TrainingRecord
	EvalReports []model.EvalReport
	Stopped     bool
	Plateaued   bool
}

// EvaluationConfig selects the decider to measure. When RunID is set the
// lab restores the latest checkpoint of that run; otherwise Policy names
// a heuristic (greedy, infotaxis, most_likely, random_walk).
type EvaluationConfig struct {
	RunID    string
	Policy   string
	Run      config.Config
	Episodes int
	Workers  int
	Seed     int64
}

// Lab owns the store and the control channels of active training runs.
// All exported methods are safe for concurrent use.
type Lab struct {
	store  storage.Store
	logger *zap.Logger

	mu sync.RWMutex

	artifactsDir   string
	started        bool
	lastStopReason StopReason
	runs           map[string]chan train.Command

	config Config
}

var (
	defaultLabMu sync.Mutex
	defaultLab   *Lab
)

func NewLab(cfg Config) *Lab {
	return &Lab{
		store:          cfg.Store,
		logger:         cfg.Logger,
		artifactsDir:   cfg.ArtifactsDir,
		runs:           make(map[string]chan train.Command),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

func StartDefault(ctx context.Context, cfg Config) (*Lab, error) {
	defaultLabMu.Lock()
	defer defaultLabMu.Unlock()

	if defaultLab != nil && defaultLab.Started() {
		return defaultLab, nil
	}

	l := NewLab(cfg)
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	defaultLab = l
	return defaultLab, nil
}

func Default() (*Lab, bool) {
	defaultLabMu.Lock()
	l := defaultLab
	defaultLabMu.Unlock()

	if l == nil || !l.Started() {
		return nil, false
	}
	return l, true
}

func StopDefault(reason StopReason) error {
	defaultLabMu.Lock()
	l := defaultLab
	defaultLabMu.Unlock()
	if l == nil {
		return nil
	}
	if err := l.StopWithReason(reason); err != nil {
		return err
	}
	defaultLabMu.Lock()
	if defaultLab == l {
		defaultLab = nil
	}
	defaultLabMu.Unlock()
	return nil
}

func (l *Lab) Init(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("store is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.store.Init(ctx); err != nil {
		return err
	}
	l.started = true
	return nil
}

func (l *Lab) Reset(ctx context.Context) error {
	_ = l.StopWithReason(StopReasonShutdown)
	if resetter, ok := l.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return l.Init(ctx)
}

func (l *Lab) Stop() {
	_ = l.StopWithReason(StopReasonNormal)
}

func (l *Lab) Shutdown() {
	_ = l.StopWithReason(StopReasonShutdown)
}

func (l *Lab) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, control := range l.runs {
		select {
		case control <- train.CommandStop:
		default:
		}
	}
	l.started = false
	l.lastStopReason = reason
	l.runs = make(map[string]chan train.Command)
	return nil
}

func (l *Lab) Started() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

func (l *Lab) LastStopReason() StopReason {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastStopReason
}

// ActiveRuns lists the run ids with a live control channel.
func (l *Lab) ActiveRuns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.runs))
	for id := range l.runs {
		ids = append(ids, id)
	}
	return ids
}

// RunTraining executes one full training run: rollout and update loop,
// periodic evaluation, checkpoints into the store, and artifact files
// when the lab has an artifacts directory. Metrics recorded up to an
// early exit are persisted before the error is returned.
func (l *Lab) RunTraining(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	if err := cfg.Run.Validate(); err != nil {
		return TrainingResult{}, err
	}

	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()
	if !started {
		return TrainingResult{}, fmt.Errorf("lab is not initialized")
	}

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("train:%s:%d", cfg.Run.Algorithm, cfg.Run.Seed)
	}
	control := cfg.Control
	if control == nil {
		control = make(chan train.Command, 16)
	}
	if err := l.registerRunControl(runID, control); err != nil {
		return TrainingResult{}, err
	}
	defer l.unregisterRunControl(runID)

	grid, _, searchCfg, err := buildEnvironment(cfg.Run)
	if err != nil {
		return TrainingResult{}, err
	}
	encoder, err := policy.NewEncoder(grid, cfg.Run.EncoderPool, cfg.Run.StepBudget)
	if err != nil {
		return TrainingResult{}, err
	}
	approx, err := policy.FromConfig(cfg.Run, rand.New(rand.NewSource(cfg.Run.Seed)), encoder.Size())
	if err != nil {
		return TrainingResult{}, err
	}
	replay, err := train.NewReplayBuffer(cfg.Run.ReplayCapacity)
	if err != nil {
		return TrainingResult{}, err
	}

	var sink train.MetricsSink = train.NopSink{}
	if l.logger != nil {
		sink = train.ZapSink{Logger: l.logger.With(zap.String("run_id", runID))}
	}

	if err := l.store.SaveRunConfig(ctx, runID, cfg.Run); err != nil {
		return TrainingResult{}, err
	}

	trainer, err := train.NewTrainer(train.Config{
		RunID:   runID,
		Run:     cfg.Run,
		Search:  searchCfg,
		Approx:  approx,
		Encoder: encoder,
		Replay:  replay,
		Sink:    sink,
		Control: control,
		Checkpoint: func(ctx context.Context, cp model.PolicyCheckpoint) error {
			cp.VersionedRecord = storage.Stamp()
			cp.CreatedAtUTC = time.Now().UTC().Format(time.RFC3339Nano)
			return l.store.SaveCheckpoint(ctx, cp)
		},
		Evaluator: &train.Evaluator{
			Search:   searchCfg,
			Episodes: cfg.Run.EvalEpisodes,
			Workers:  cfg.Run.Workers,
			Seed:     cfg.Run.Seed + 1000,
		},
	})
	if err != nil {
		return TrainingResult{}, err
	}

	result, runErr := trainer.Run(ctx)

	out := TrainingResult{
		RunID:       runID,
		History:     result.History,
		EvalReports: result.EvalReports,
		Stopped:     result.Stopped,
		Plateaued:   result.Plateaued,
	}

	// Persist whatever the run produced, even when it ended early: a
	// numerical-instability report without its history is useless.
	if len(result.History) > 0 {
		if err := l.store.SaveTrainingHistory(ctx, runID, result.History); err != nil {
			return out, err
		}
	}
	if len(result.EvalReports) > 0 {
		for i := range out.EvalReports {
			out.EvalReports[i].VersionedRecord = storage.Stamp()
		}
		if err := l.store.SaveEvalReports(ctx, runID, out.EvalReports); err != nil {
			return out, err
		}
	}
	if runErr != nil {
		return out, runErr
	}

	final := model.PolicyCheckpoint{
		VersionedRecord: storage.Stamp(),
		RunID:           runID,
		Iteration:       len(result.History),
		Algorithm:       approx.Name(),
		Params:          approx.Params(),
		Epsilon:         train.Epsilon(cfg.Run, len(result.History)),
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := l.store.SaveCheckpoint(ctx, final); err != nil {
		return out, err
	}

	if l.artifactsDir != "" {
		if err := l.writeArtifacts(runID, cfg.Run, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// EvaluateRun measures a decider over fresh episodes with exploration
// disabled. A stored run is evaluated at its latest checkpoint.
func (l *Lab) EvaluateRun(ctx context.Context, cfg EvaluationConfig) (model.EvalReport, error) {
	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()
	if !started {
		return model.EvalReport{}, fmt.Errorf("lab is not initialized")
	}
	if cfg.Episodes <= 0 {
		return model.EvalReport{}, fmt.Errorf("episodes must be > 0")
	}

	runCfg := cfg.Run
	var decider policy.Decider
	switch {
	case cfg.RunID != "":
		stored, ok, err := l.store.GetRunConfig(ctx, cfg.RunID)
		if err != nil {
			return model.EvalReport{}, err
		}
		if !ok {
			return model.EvalReport{}, fmt.Errorf("run config not found: %s", cfg.RunID)
		}
		runCfg = stored

		cp, ok, err := l.store.LatestCheckpoint(ctx, cfg.RunID)
		if err != nil {
			return model.EvalReport{}, err
		}
		if !ok {
			return model.EvalReport{}, fmt.Errorf("no checkpoint for run: %s", cfg.RunID)
		}

		grid, _, _, err := buildEnvironment(runCfg)
		if err != nil {
			return model.EvalReport{}, err
		}
		encoder, err := policy.NewEncoder(grid, runCfg.EncoderPool, runCfg.StepBudget)
		if err != nil {
			return model.EvalReport{}, err
		}
		approx, err := policy.FromConfig(runCfg, rand.New(rand.NewSource(cfg.Seed)), encoder.Size())
		if err != nil {
			return model.EvalReport{}, err
		}
		if err := approx.Restore(cp.Params); err != nil {
			return model.EvalReport{}, fmt.Errorf("restore checkpoint %s/%d: %w", cfg.RunID, cp.Iteration, err)
		}
		decider = policy.Learned{Approx: approx, Encoder: encoder}
	case cfg.Policy != "":
		if err := runCfg.Validate(); err != nil {
			return model.EvalReport{}, err
		}
		_, obs, _, err := buildEnvironment(runCfg)
		if err != nil {
			return model.EvalReport{}, err
		}
		decider, err = policy.HeuristicByName(cfg.Policy, obs)
		if err != nil {
			return model.EvalReport{}, err
		}
	default:
		return model.EvalReport{}, fmt.Errorf("evaluation requires run id or policy name")
	}

	_, _, searchCfg, err := buildEnvironment(runCfg)
	if err != nil {
		return model.EvalReport{}, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runCfg.Workers
	}
	evaluator := &train.Evaluator{
		Search:   searchCfg,
		Episodes: cfg.Episodes,
		Workers:  workers,
		Seed:     cfg.Seed,
	}
	report, err := evaluator.Run(ctx, decider)
	if err != nil {
		return model.EvalReport{}, err
	}
	report.RunID = cfg.RunID
	return report, nil
}

func (l *Lab) PauseRun(runID string) error {
	return l.sendRunCommand(runID, train.CommandPause)
}

func (l *Lab) ContinueRun(runID string) error {
	return l.sendRunCommand(runID, train.CommandContinue)
}

func (l *Lab) StopRun(runID string) error {
	return l.sendRunCommand(runID, train.CommandStop)
}

func (l *Lab) registerRunControl(runID string, control chan train.Command) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return fmt.Errorf("lab is not initialized")
	}
	if _, exists := l.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	l.runs[runID] = control
	return nil
}

func (l *Lab) unregisterRunControl(runID string) {
	if runID == "" {
		return
	}
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}

func (l *Lab) sendRunCommand(runID string, cmd train.Command) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.RLock()
	control, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	select {
	case control <- cmd:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}

func (l *Lab) writeArtifacts(runID string, runCfg config.Config, result TrainingResult) error {
	if _, err := stats.WriteRunArtifacts(l.artifactsDir, stats.RunArtifacts{
		RunID:       runID,
		Config:      runCfg,
		History:     result.History,
		EvalReports: result.EvalReports,
	}); err != nil {
		return err
	}

	entry := stats.RunIndexEntry{
		RunID:        runID,
		Algorithm:    runCfg.Algorithm,
		GridWidth:    runCfg.GridWidth,
		GridHeight:   runCfg.GridHeight,
		Iterations:   len(result.History),
		Seed:         runCfg.Seed,
		Workers:      runCfg.Workers,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if n := len(result.History); n > 0 {
		entry.FinalMeanReturn = result.History[n-1].MeanReturn
		entry.FinalSuccessRate = result.History[n-1].SuccessRate
	}
	return stats.AppendRunIndex(l.artifactsDir, entry)
}

// buildEnvironment assembles the grid, observation model, and episode
// configuration a run config describes.
func buildEnvironment(cfg config.Config) (plume.Grid, plume.ObservationModel, search.Config, error) {
	grid, err := plume.NewGrid(cfg.GridWidth, cfg.GridHeight)
	if err != nil {
		return plume.Grid{}, nil, search.Config{}, err
	}
	norm, err := plume.ParseNorm(cfg.Norm)
	if err != nil {
		return plume.Grid{}, nil, search.Config{}, err
	}
	obs, err := plume.NewModel(grid, plume.Params{
		EmissionRate:  cfg.EmissionRate,
		MeanWind:      cfg.MeanWind,
		CoherenceTime: cfg.CoherenceTime,
		NumHits:       cfg.NumHits,
		Norm:          norm,
	})
	if err != nil {
		return plume.Grid{}, nil, search.Config{}, err
	}
	searchCfg := search.Config{
		Grid:              grid,
		Model:             obs,
		StepBudget:        cfg.StepBudget,
		MinSourceDistance: cfg.MinSourceDistance,
		Start:             plume.Cell{X: cfg.StartX, Y: cfg.StartY},
		InitialHit:        cfg.InitialHit,
		Reward: search.RewardSpec{
			StepCost:       cfg.RewardStepCost,
			FoundBonus:     cfg.RewardFoundBonus,
			EntropyWeight:  cfg.ShapingEntropyWeight,
			DistanceWeight: cfg.ShapingDistanceWeight,
		},
	}
	return grid, obs, searchCfg, nil
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}
