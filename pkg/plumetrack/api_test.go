package plumetrack

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plumetrack/internal/config"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.GridWidth = 5
	cfg.GridHeight = 5
	cfg.StartX = 2
	cfg.StartY = 2
	cfg.StepBudget = 20
	cfg.HiddenLayers = 1
	cfg.HiddenUnits = 8
	cfg.EncoderPool = 2
	cfg.Iterations = 2
	cfg.EpisodesPerIteration = 2
	cfg.Workers = 2
	cfg.ReplayCapacity = 100
	cfg.BatchSize = 4
	cfg.GDSteps = 1
	cfg.EvalEvery = 2
	cfg.EvalEpisodes = 2
	cfg.CheckpointEvery = 1
	cfg.PlateauWindow = 0
	cfg.Seed = 9
	return cfg
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "artifacts"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientTrainRunsHistoryExport(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Config: smallConfig()})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Iterations)
	assert.False(t, summary.Stopped)

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, "dqn", runs[0].Algorithm)
	assert.Equal(t, 2, runs[0].Iterations)

	history, err := client.History(ctx, HistoryRequest{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[1].Iteration)

	limited, err := client.History(ctx, HistoryRequest{Latest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, history[1], limited[0])

	cp, err := client.Checkpoint(ctx, CheckpointRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Iteration)
	assert.Equal(t, "dqn", cp.Algorithm)

	first, err := client.Checkpoint(ctx, CheckpointRequest{Latest: true, Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Iteration)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	assert.DirExists(t, exported.Directory)
}

func TestClientEvaluateStoredRunAndHeuristic(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{RunID: "eval-run", Config: smallConfig()})
	require.NoError(t, err)
	require.Equal(t, "eval-run", summary.RunID)

	report, err := client.Evaluate(ctx, EvaluateRequest{RunID: "eval-run", Episodes: 3, Seed: 5})
	require.NoError(t, err)
	assert.Equal(t, "eval-run", report.RunID)
	assert.Equal(t, 3, report.Episodes)
	assert.Equal(t, "dqn", report.Policy)

	baseline, err := client.Evaluate(ctx, EvaluateRequest{
		Policy:   "random_walk",
		Config:   smallConfig(),
		Episodes: 3,
		Seed:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, "random_walk", baseline.Policy)
}

func TestClientRequestValidation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Evaluate(ctx, EvaluateRequest{RunID: "x", Latest: true})
	assert.Error(t, err)

	_, err = client.Evaluate(ctx, EvaluateRequest{})
	assert.Error(t, err)

	_, err = client.Export(ctx, ExportRequest{})
	assert.Error(t, err)

	_, err = client.Export(ctx, ExportRequest{Latest: true})
	assert.Error(t, err, "no runs yet")

	_, err = client.History(ctx, HistoryRequest{})
	assert.Error(t, err)

	_, err = client.Checkpoint(ctx, CheckpointRequest{RunID: "missing"})
	assert.Error(t, err)

	err = client.PauseRun("missing")
	assert.Error(t, err)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(Options{StoreKind: "bogus"})
	require.Error(t, err)
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	client := newTestClient(t)

	cfg := smallConfig()
	cfg.LearningRate = -1
	_, err := client.Train(context.Background(), TrainRequest{Config: cfg})
	require.ErrorIs(t, err, config.ErrInvalid)
}
