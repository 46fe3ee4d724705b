package policy

import (
	"fmt"
	"math/rand"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
	"plumetrack/internal/search"
)

// Sample is one replayable transition in feature space. Return is the
// discounted tail return, filled in only for Monte Carlo updates.
type Sample struct {
	Features     []float64
	Action       search.Action
	Reward       float64
	NextFeatures []float64
	Done         bool
	Return       float64
}

// Approximator is a trainable action-value or action-probability model.
// Implementations are not safe for concurrent use.
type Approximator interface {
	Name() string

	// SelectAction picks an action for the given features; epsilon in
	// [0, 1] controls exploration.
	SelectAction(rng *rand.Rand, features []float64, epsilon float64) (search.Action, error)

	// Update applies one gradient step over the batch and returns the
	// batch loss.
	Update(batch []Sample) (float64, error)

	// Params and Restore snapshot and reload the learnable parameters.
	Params() model.PolicyParams
	Restore(params model.PolicyParams) error

	// SyncTarget refreshes any frozen copy of the parameters. A no-op
	// for algorithms without a target network.
	SyncTarget()

	// HasNaN reports numerical blow-up in the parameters.
	HasNaN() bool
}

// FromConfig builds the approximator named by the configuration.
func FromConfig(cfg config.Config, rng *rand.Rand, inputSize int) (Approximator, error) {
	sizes := make([]int, 0, cfg.HiddenLayers+2)
	sizes = append(sizes, inputSize)
	for i := 0; i < cfg.HiddenLayers; i++ {
		sizes = append(sizes, cfg.HiddenUnits)
	}
	sizes = append(sizes, search.NumActions)

	switch cfg.Algorithm {
	case config.AlgorithmDQN:
		return NewDQN(rng, sizes, cfg.LearningRate, cfg.Discount)
	case config.AlgorithmReinforce:
		return NewReinforce(rng, sizes, cfg.LearningRate)
	default:
		return nil, fmt.Errorf("unknown algorithm %q", cfg.Algorithm)
	}
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
