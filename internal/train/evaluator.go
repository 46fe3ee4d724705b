package train

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/stat"

	"plumetrack/internal/model"
	"plumetrack/internal/policy"
	"plumetrack/internal/search"
)

// Evaluator measures a decider over a fixed batch of fresh episodes with
// exploration disabled. Episode seeds derive from the evaluator seed, so
// two evaluations of the same policy see the same sources.
type Evaluator struct {
	Search   search.Config
	Episodes int
	Workers  int
	Seed     int64
}

type evalOutcome struct {
	steps             int
	found             bool
	degenerateUpdates int
	failed            bool
}

// Run plays the evaluation batch and aggregates the outcomes. Episodes
// that error are counted as failures, not successes.
func (e *Evaluator) Run(ctx context.Context, decider policy.Decider) (model.EvalReport, error) {
	if e.Episodes <= 0 {
		return model.EvalReport{}, fmt.Errorf("evaluation episodes must be > 0")
	}
	workerCount := e.Workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > e.Episodes {
		workerCount = e.Episodes
	}

	type job struct {
		idx  int
		seed int64
	}
	type result struct {
		idx     int
		outcome evalOutcome
		err     error
	}

	jobs := make(chan job)
	results := make(chan result, e.Episodes)

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
				outcome, err := e.playEpisode(j.seed, decider)
				results <- result{idx: j.idx, outcome: outcome, err: err}
			}
		}()
	}

	for i := 0; i < e.Episodes; i++ {
		jobs <- job{idx: i, seed: e.Seed + int64(i)}
	}
	close(jobs)

	wg.Wait()
	close(results)

	outcomes := make([]evalOutcome, e.Episodes)
	for res := range results {
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				return model.EvalReport{}, res.err
			}
			outcomes[res.idx] = evalOutcome{failed: true}
			continue
		}
		outcomes[res.idx] = res.outcome
	}

	return e.aggregate(decider.Name(), outcomes), nil
}

func (e *Evaluator) playEpisode(seed int64, decider policy.Decider) (evalOutcome, error) {
	rng := rand.New(rand.NewSource(seed))
	ep, err := search.NewEpisode(e.Search, rng)
	if err != nil {
		return evalOutcome{}, err
	}
	if err := ep.Reset(); err != nil {
		return evalOutcome{}, err
	}
	for !ep.Done() {
		action, err := decider.Decide(rng, ep)
		if err != nil {
			return evalOutcome{}, err
		}
		if _, err := ep.Step(action); err != nil {
			return evalOutcome{}, err
		}
	}
	return evalOutcome{
		steps:             ep.Steps(),
		found:             ep.Phase() == search.PhaseFound,
		degenerateUpdates: ep.DegenerateUpdates(),
	}, nil
}

func (e *Evaluator) aggregate(policyName string, outcomes []evalOutcome) model.EvalReport {
	report := model.EvalReport{
		Policy:   policyName,
		Episodes: len(outcomes),
	}
	foundSteps := make([]float64, 0, len(outcomes))
	totalSteps := 0
	totalDegenerate := 0
	completed := 0
	for _, o := range outcomes {
		if o.failed {
			continue
		}
		completed++
		totalSteps += o.steps
		totalDegenerate += o.degenerateUpdates
		if o.found {
			foundSteps = append(foundSteps, float64(o.steps))
		}
	}
	// Same denominator as the per-iteration training record: an episode
	// the harness could not run does not count against the policy.
	if completed > 0 {
		report.SuccessRate = float64(len(foundSteps)) / float64(completed)
	}
	if len(foundSteps) > 0 {
		report.MeanSteps = stat.Mean(foundSteps, nil)
	}
	if len(foundSteps) > 1 {
		report.StepsVariance = stat.Variance(foundSteps, nil)
	}
	if totalSteps > 0 {
		report.DegenerateUpdateRate = float64(totalDegenerate) / float64(totalSteps)
	}
	return report
}
