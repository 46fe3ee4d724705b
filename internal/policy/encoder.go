package policy

import (
	"fmt"
	"math"

	"plumetrack/internal/belief"
	"plumetrack/internal/plume"
	"plumetrack/internal/search"
)

// Encoder turns an episode's belief and agent position into a fixed-size
// feature vector. The size depends only on the pooling resolution, so the
// same network shape works on any grid.
type Encoder struct {
	grid   plume.Grid
	pool   int
	budget int
}

const scalarFeatures = 8

func NewEncoder(grid plume.Grid, pool, stepBudget int) (*Encoder, error) {
	if pool < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", pool)
	}
	if pool > grid.Width || pool > grid.Height {
		return nil, fmt.Errorf("pool %d exceeds %dx%d grid", pool, grid.Width, grid.Height)
	}
	if stepBudget <= 0 {
		return nil, fmt.Errorf("step budget must be > 0")
	}
	return &Encoder{grid: grid, pool: pool, budget: stepBudget}, nil
}

// Size is the feature vector length.
func (e *Encoder) Size() int { return scalarFeatures + e.pool*e.pool }

// Encode builds the feature vector: normalized entropy, mass at the
// agent, expected source offset, expected distance, agent position,
// remaining budget, and a pooled coarse view of the belief.
func (e *Encoder) Encode(state *belief.State, agent plume.Cell, stepsTaken int) []float64 {
	features := make([]float64, 0, e.Size())

	maxEntropy := math.Log2(float64(e.grid.Cells()))
	features = append(features, state.Entropy()/maxEntropy)
	features = append(features, state.Mass(agent))

	ex, ey := state.ExpectedPosition()
	features = append(features,
		(ex-float64(agent.X))/float64(e.grid.Width-1),
		(ey-float64(agent.Y))/float64(e.grid.Height-1))
	features = append(features,
		state.ExpectedManhattan(agent)/float64(e.grid.Width+e.grid.Height))
	features = append(features,
		float64(agent.X)/float64(e.grid.Width-1),
		float64(agent.Y)/float64(e.grid.Height-1))

	left := float64(e.budget-stepsTaken) / float64(e.budget)
	if left < 0 {
		left = 0
	}
	features = append(features, left)

	return append(features, e.pooled(state)...)
}

// EncodeEpisode is Encode over a live episode.
func (e *Encoder) EncodeEpisode(ep *search.Episode) []float64 {
	return e.Encode(ep.Belief(), ep.Agent(), ep.Steps())
}

// pooled sums belief mass into a pool x pool block grid.
func (e *Encoder) pooled(state *belief.State) []float64 {
	bins := make([]float64, e.pool*e.pool)
	for i, m := range state.Masses() {
		if m == 0 {
			continue
		}
		c := e.grid.CellAt(i)
		bx := c.X * e.pool / e.grid.Width
		by := c.Y * e.pool / e.grid.Height
		bins[by*e.pool+bx] += m
	}
	return bins
}
