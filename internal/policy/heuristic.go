package policy

import (
	"errors"
	"fmt"
	"math/rand"

	"plumetrack/internal/belief"
	"plumetrack/internal/plume"
	"plumetrack/internal/search"
)

// Decider picks the next action for a live episode. Learned policies and
// the heuristic baselines share this surface so the evaluator can run
// any of them.
type Decider interface {
	Name() string
	Decide(rng *rand.Rand, ep *search.Episode) (search.Action, error)
}

const (
	DeciderGreedy     = "greedy"
	DeciderInfotaxis  = "infotaxis"
	DeciderRandomWalk = "random_walk"
	DeciderMostLikely = "most_likely"
)

// HeuristicByName returns one of the built-in baseline deciders.
func HeuristicByName(name string, model plume.ObservationModel) (Decider, error) {
	switch name {
	case DeciderGreedy:
		return Greedy{}, nil
	case DeciderInfotaxis:
		if model == nil {
			return nil, fmt.Errorf("infotaxis requires an observation model")
		}
		return Infotaxis{Model: model}, nil
	case DeciderRandomWalk:
		return RandomWalk{}, nil
	case DeciderMostLikely:
		return MostLikely{}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// RandomWalk picks uniformly among the four moves.
type RandomWalk struct{}

func (RandomWalk) Name() string { return DeciderRandomWalk }

func (RandomWalk) Decide(rng *rand.Rand, _ *search.Episode) (search.Action, error) {
	return search.Action(rng.Intn(search.NumActions)), nil
}

// Greedy moves to the neighbor with the lowest expected distance to the
// source under the current belief. Blocked moves are scored at the
// current cell, so they only win when every step away looks worse.
type Greedy struct{}

func (Greedy) Name() string { return DeciderGreedy }

func (Greedy) Decide(_ *rand.Rand, ep *search.Episode) (search.Action, error) {
	state := ep.Belief()
	grid := state.Grid()
	best := search.Action(0)
	bestDist := 0.0
	for a := search.Action(0); a < search.NumActions; a++ {
		dx, dy := a.Delta()
		next := plume.Cell{X: ep.Agent().X + dx, Y: ep.Agent().Y + dy}
		if !grid.Contains(next) {
			next = ep.Agent()
		}
		d := state.ExpectedManhattan(next)
		if a == 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	return best, nil
}

// Infotaxis picks the move with the lowest expected posterior entropy,
// averaging over the observations the model could produce there.
type Infotaxis struct {
	Model plume.ObservationModel
}

func (Infotaxis) Name() string { return DeciderInfotaxis }

func (h Infotaxis) Decide(_ *rand.Rand, ep *search.Episode) (search.Action, error) {
	state := ep.Belief()
	grid := state.Grid()
	best := search.Action(0)
	bestScore := 0.0
	for a := search.Action(0); a < search.NumActions; a++ {
		dx, dy := a.Delta()
		next := plume.Cell{X: ep.Agent().X + dx, Y: ep.Agent().Y + dy}
		if !grid.Contains(next) {
			next = ep.Agent()
		}
		score, err := h.expectedEntropy(state, next)
		if err != nil {
			return 0, err
		}
		// Finding the source outright is worth the whole remaining
		// entropy: weight the no-find branch by its probability.
		pFind := state.Mass(next)
		score *= 1 - pFind
		if a == 0 || score < bestScore {
			best, bestScore = a, score
		}
	}
	return best, nil
}

// expectedEntropy is the observation-averaged entropy of the belief after
// moving to cell p and not finding the source there.
func (h Infotaxis) expectedEntropy(state *belief.State, p plume.Cell) (float64, error) {
	grid := state.Grid()

	conditioned := state.Clone()
	if err := conditioned.ZeroCell(p); err != nil {
		if errors.Is(err, belief.ErrDegenerateUpdate) {
			return 0, nil
		}
		return 0, err
	}

	total := 0.0
	for hit := 0; hit < h.Model.NumHits(); hit++ {
		// Marginal probability of this hit class at p.
		pHit := 0.0
		for i, m := range conditioned.Masses() {
			if m == 0 {
				continue
			}
			pHit += m * h.Model.Likelihood(hit, p, grid.CellAt(i))
		}
		if pHit <= 0 {
			continue
		}
		posterior := conditioned.Clone()
		err := posterior.Update(func(c plume.Cell) float64 {
			return h.Model.Likelihood(hit, p, c)
		})
		if errors.Is(err, belief.ErrDegenerateUpdate) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += pHit * posterior.Entropy()
	}
	return total, nil
}

// MostLikely walks toward the single most plausible cell, taking the
// axis with the larger remaining gap first. Ties between cells resolve
// to the lowest grid index.
type MostLikely struct{}

func (MostLikely) Name() string { return DeciderMostLikely }

func (MostLikely) Decide(rng *rand.Rand, ep *search.Episode) (search.Action, error) {
	state := ep.Belief()
	grid := state.Grid()
	target := ep.Agent()
	bestMass := -1.0
	for i, m := range state.Masses() {
		if m > bestMass {
			bestMass, target = m, grid.CellAt(i)
		}
	}
	dx := target.X - ep.Agent().X
	dy := target.Y - ep.Agent().Y
	if dx == 0 && dy == 0 {
		return search.Action(rng.Intn(search.NumActions)), nil
	}
	adx, ady := dx, dy
	if adx < 0 {
		adx = -adx
	}
	if ady < 0 {
		ady = -ady
	}
	if adx >= ady {
		if dx > 0 {
			return search.MoveXPos, nil
		}
		return search.MoveXNeg, nil
	}
	if dy > 0 {
		return search.MoveYPos, nil
	}
	return search.MoveYNeg, nil
}

// Learned wraps an approximator and an encoder into a greedy decider
// for evaluation runs.
type Learned struct {
	Approx  Approximator
	Encoder *Encoder
	Epsilon float64
}

func (l Learned) Name() string { return l.Approx.Name() }

func (l Learned) Decide(rng *rand.Rand, ep *search.Episode) (search.Action, error) {
	return l.Approx.SelectAction(rng, l.Encoder.EncodeEpisode(ep), l.Epsilon)
}
