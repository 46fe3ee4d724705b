package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
	"plumetrack/internal/policy"
	"plumetrack/internal/search"
)

// ErrNumericalInstability reports NaN or infinite policy parameters. The
// run halts; the most recent checkpoint remains valid.
var ErrNumericalInstability = errors.New("numerical instability in policy parameters")

// Command steers a running trainer between iterations.
type Command int

const (
	CommandPause Command = iota
	CommandContinue
	CommandStop
)

// CheckpointFunc persists a policy snapshot mid-run.
type CheckpointFunc func(ctx context.Context, checkpoint model.PolicyCheckpoint) error

// Config wires one training run.
type Config struct {
	RunID      string
	Run        config.Config
	Search     search.Config
	Approx     policy.Approximator
	Encoder    *policy.Encoder
	Replay     *ReplayBuffer
	Sink       MetricsSink
	Checkpoint CheckpointFunc
	Control    chan Command
	Evaluator  *Evaluator
}

// Result is the outcome of a completed (or stopped) run.
type Result struct {
	History     []model.TrainingRecord
	EvalReports []model.EvalReport
	Stopped     bool
	Plateaued   bool
}

// Trainer runs the sample-update loop: roll out episodes under the
// current exploration schedule, push transitions into replay, and take
// gradient steps on sampled batches.
type Trainer struct {
	cfg Config
	rng *rand.Rand

	episodeCounter int64
}

func NewTrainer(cfg Config) (*Trainer, error) {
	if cfg.Approx == nil {
		return nil, fmt.Errorf("approximator is required")
	}
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("replay buffer is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Run.Workers <= 0 {
		cfg.Run.Workers = 1
	}
	return &Trainer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Run.Seed)),
	}, nil
}

// Epsilon is the exploration rate at the given iteration: exponential
// decay from the initial rate down to the floor.
func Epsilon(cfg config.Config, iteration int) float64 {
	decay := math.Exp(-float64(iteration) / float64(cfg.EpsilonDecay))
	return cfg.EpsilonFloor + (cfg.EpsilonInit-cfg.EpsilonFloor)*decay
}

type rolloutStats struct {
	ret               float64
	steps             int
	found             bool
	degenerateUpdates int
	failed            bool
}

// Run executes the full training loop. It returns early on context
// cancellation, a stop command, a reward plateau, or numerical
// instability; in the plateau and stop cases the result is still valid.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	res := Result{
		History: make([]model.TrainingRecord, 0, t.cfg.Run.Iterations),
	}
	var movingWindow []float64

	for it := 0; it < t.cfg.Run.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stopped, err := t.handleControl(ctx)
		if err != nil {
			return res, err
		}
		if stopped {
			res.Stopped = true
			return res, nil
		}

		epsilon := Epsilon(t.cfg.Run, it)
		stats, err := t.rolloutIteration(ctx, epsilon)
		if err != nil {
			return res, err
		}

		loss, err := t.updatePolicy()
		if err != nil {
			return res, err
		}
		if t.cfg.Run.TargetSyncEvery > 0 && (it+1)%t.cfg.Run.TargetSyncEvery == 0 {
			t.cfg.Approx.SyncTarget()
		}
		if t.cfg.Approx.HasNaN() {
			return res, fmt.Errorf("iteration %d: %w", it, ErrNumericalInstability)
		}

		rec := summarize(it, epsilon, loss, stats)
		movingWindow = append(movingWindow, rec.MeanReturn)
		if len(movingWindow) > t.cfg.Run.PlateauWindow {
			movingWindow = movingWindow[1:]
		}
		rec.MovingAvgReturn = mean(movingWindow)
		res.History = append(res.History, rec)
		t.cfg.Sink.RecordIteration(rec)

		if t.cfg.Evaluator != nil && t.cfg.Run.EvalEvery > 0 && (it+1)%t.cfg.Run.EvalEvery == 0 {
			report, err := t.cfg.Evaluator.Run(ctx, policy.Learned{
				Approx:  t.cfg.Approx,
				Encoder: t.cfg.Encoder,
			})
			if err != nil {
				return res, fmt.Errorf("evaluate at iteration %d: %w", it, err)
			}
			report.RunID = t.cfg.RunID
			report.Iteration = it + 1
			res.EvalReports = append(res.EvalReports, report)
			t.cfg.Sink.RecordEval(report)
		}

		if t.cfg.Checkpoint != nil && t.cfg.Run.CheckpointEvery > 0 &&
			(it+1)%t.cfg.Run.CheckpointEvery == 0 {
			if err := t.checkpoint(ctx, it+1, epsilon); err != nil {
				return res, fmt.Errorf("checkpoint at iteration %d: %w", it, err)
			}
		}

		if t.plateaued(res.History) {
			res.Plateaued = true
			return res, nil
		}
	}
	return res, nil
}

// handleControl drains pending commands; on pause it blocks until a
// continue or stop arrives.
func (t *Trainer) handleControl(ctx context.Context) (bool, error) {
	if t.cfg.Control == nil {
		return false, nil
	}
	for {
		select {
		case cmd := <-t.cfg.Control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandPause:
				stopped, err := t.waitWhilePaused(ctx)
				if stopped || err != nil {
					return stopped, err
				}
			case CommandContinue:
			}
		default:
			return false, nil
		}
	}
}

func (t *Trainer) waitWhilePaused(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-t.cfg.Control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandContinue:
				return false, nil
			case CommandPause:
			}
		}
	}
}

// rolloutIteration plays one batch of episodes in parallel. Each episode
// gets its own rng seeded from the run seed and a global episode index,
// so results do not depend on goroutine scheduling. A failed episode is
// counted and skipped; its transitions are discarded.
func (t *Trainer) rolloutIteration(ctx context.Context, epsilon float64) ([]rolloutStats, error) {
	n := t.cfg.Run.EpisodesPerIteration
	type job struct {
		idx  int
		seed int64
	}
	type result struct {
		idx     int
		stats   rolloutStats
		samples []policy.Sample
		err     error
	}

	jobs := make(chan job)
	results := make(chan result, n)

	workerCount := t.cfg.Run.Workers
	if workerCount > n {
		workerCount = n
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				stats, samples, err := t.rolloutEpisode(j.seed, epsilon)
				results <- result{idx: j.idx, stats: stats, samples: samples, err: err}
			}
		}()
	}

	base := t.episodeCounter
	for i := 0; i < n; i++ {
		jobs <- job{idx: i, seed: t.cfg.Run.Seed + base + int64(i)}
	}
	t.episodeCounter += int64(n)
	close(jobs)

	wg.Wait()
	close(results)

	stats := make([]rolloutStats, n)
	samplesByEpisode := make([][]policy.Sample, n)
	for res := range results {
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				return nil, res.err
			}
			stats[res.idx] = rolloutStats{failed: true}
			continue
		}
		stats[res.idx] = res.stats
		samplesByEpisode[res.idx] = res.samples
	}
	// Insert in episode order so replay contents do not depend on
	// goroutine scheduling.
	for _, samples := range samplesByEpisode {
		t.cfg.Replay.Add(samples...)
	}
	return stats, nil
}

func (t *Trainer) rolloutEpisode(seed int64, epsilon float64) (rolloutStats, []policy.Sample, error) {
	rng := rand.New(rand.NewSource(seed))
	ep, err := search.NewEpisode(t.cfg.Search, rng)
	if err != nil {
		return rolloutStats{}, nil, err
	}
	if err := ep.Reset(); err != nil {
		return rolloutStats{}, nil, err
	}

	var stats rolloutStats
	samples := make([]policy.Sample, 0, t.cfg.Search.StepBudget)
	features := t.cfg.Encoder.EncodeEpisode(ep)
	for !ep.Done() {
		action, err := t.cfg.Approx.SelectAction(rng, features, epsilon)
		if err != nil {
			return rolloutStats{}, nil, err
		}
		tr, err := ep.Step(action)
		if err != nil {
			return rolloutStats{}, nil, err
		}
		next := t.cfg.Encoder.EncodeEpisode(ep)
		samples = append(samples, policy.Sample{
			Features:     features,
			Action:       action,
			Reward:       tr.Reward,
			NextFeatures: next,
			Done:         ep.Done(),
		})
		features = next
		stats.ret += tr.Reward
	}

	fillReturns(samples, t.cfg.Run.Discount)
	stats.steps = ep.Steps()
	stats.found = ep.Phase() == search.PhaseFound
	stats.degenerateUpdates = ep.DegenerateUpdates()
	return stats, samples, nil
}

// fillReturns computes the discounted tail return for each transition.
func fillReturns(samples []policy.Sample, discount float64) {
	acc := 0.0
	for i := len(samples) - 1; i >= 0; i-- {
		acc = samples[i].Reward + discount*acc
		samples[i].Return = acc
	}
}

func (t *Trainer) updatePolicy() (float64, error) {
	if t.cfg.Replay.Len() < t.cfg.Run.BatchSize {
		return 0, nil
	}
	total := 0.0
	for g := 0; g < t.cfg.Run.GDSteps; g++ {
		batch, err := t.cfg.Replay.Sample(t.rng, t.cfg.Run.BatchSize)
		if err != nil {
			return 0, err
		}
		loss, err := t.cfg.Approx.Update(batch)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(t.cfg.Run.GDSteps), nil
}

func (t *Trainer) checkpoint(ctx context.Context, iteration int, epsilon float64) error {
	return t.cfg.Checkpoint(ctx, model.PolicyCheckpoint{
		RunID:     t.cfg.RunID,
		Iteration: iteration,
		Algorithm: t.cfg.Approx.Name(),
		Params:    t.cfg.Approx.Params(),
		Epsilon:   epsilon,
	})
}

// plateaued reports whether the moving-average return has stopped
// improving: the window is full and its latest value beats the value a
// full window ago by less than the tolerance.
func (t *Trainer) plateaued(history []model.TrainingRecord) bool {
	w := t.cfg.Run.PlateauWindow
	if w <= 0 || len(history) < 2*w {
		return false
	}
	latest := history[len(history)-1].MovingAvgReturn
	past := history[len(history)-1-w].MovingAvgReturn
	return latest-past < t.cfg.Run.PlateauTolerance
}

func summarize(iteration int, epsilon, loss float64, stats []rolloutStats) model.TrainingRecord {
	rec := model.TrainingRecord{
		Iteration: iteration,
		Epsilon:   epsilon,
		Loss:      loss,
	}
	returns := make([]float64, 0, len(stats))
	foundSteps := make([]float64, 0, len(stats))
	completed := 0
	for _, s := range stats {
		if s.failed {
			rec.FailedEpisodes++
			continue
		}
		completed++
		returns = append(returns, s.ret)
		rec.DegenerateUpdates += s.degenerateUpdates
		if s.found {
			foundSteps = append(foundSteps, float64(s.steps))
		}
	}
	rec.MeanReturn = mean(returns)
	rec.MeanStepsToFind = mean(foundSteps)
	if completed > 0 {
		rec.SuccessRate = float64(len(foundSteps)) / float64(completed)
	}
	return rec
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
