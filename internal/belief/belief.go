package belief

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"plumetrack/internal/plume"
)

// ErrDegenerateUpdate reports that an observation left no plausible
// candidate. The caller keeps the pre-update distribution and continues;
// this is recoverable, not fatal.
var ErrDegenerateUpdate = errors.New("degenerate belief update: posterior mass underflowed")

const massEpsilon = 1e-12

// Likelihood scores one observation against a candidate source cell.
type Likelihood func(candidate plume.Cell) float64

// State is a normalized probability mass over every cell of the grid. The
// support is fixed for an episode: cells are only reweighted, never added
// or removed.
type State struct {
	grid plume.Grid
	mass []float64
}

// NewUniform returns the uniform prior over the whole grid.
func NewUniform(grid plume.Grid) *State {
	n := grid.Cells()
	mass := make([]float64, n)
	p := 1.0 / float64(n)
	for i := range mass {
		mass[i] = p
	}
	return &State{grid: grid, mass: mass}
}

// NewUniformExcluding returns the uniform prior with zero mass at the
// given cell (the agent's start: the source is known not to be there).
func NewUniformExcluding(grid plume.Grid, cell plume.Cell) (*State, error) {
	if !grid.Contains(cell) {
		return nil, fmt.Errorf("cell (%d,%d) outside %dx%d grid", cell.X, cell.Y, grid.Width, grid.Height)
	}
	n := grid.Cells()
	mass := make([]float64, n)
	p := 1.0 / float64(n-1)
	for i := range mass {
		mass[i] = p
	}
	mass[grid.Index(cell)] = 0
	return &State{grid: grid, mass: mass}, nil
}

func (s *State) Clone() *State {
	return &State{grid: s.grid, mass: append([]float64(nil), s.mass...)}
}

func (s *State) Grid() plume.Grid { return s.grid }

func (s *State) Mass(cell plume.Cell) float64 {
	return s.mass[s.grid.Index(cell)]
}

func (s *State) Sum() float64 {
	total := 0.0
	for _, m := range s.mass {
		total += m
	}
	return total
}

// Update applies one Bayes step: posterior ∝ prior × likelihood, then
// renormalization. The product is accumulated in log-space so that long
// observation sequences cannot underflow cell by cell. If the total mass
// still underflows (every candidate implausible under a spurious
// observation) the prior is restored and ErrDegenerateUpdate returned.
func (s *State) Update(lik Likelihood) error {
	logp := make([]float64, len(s.mass))
	maxLog := math.Inf(-1)
	for i, m := range s.mass {
		if m <= 0 {
			logp[i] = math.Inf(-1)
			continue
		}
		l := lik(s.grid.CellAt(i))
		if l <= 0 {
			logp[i] = math.Inf(-1)
			continue
		}
		logp[i] = math.Log(m) + math.Log(l)
		if logp[i] > maxLog {
			maxLog = logp[i]
		}
	}
	if math.IsInf(maxLog, -1) {
		return ErrDegenerateUpdate
	}

	total := 0.0
	next := make([]float64, len(s.mass))
	for i, lp := range logp {
		if math.IsInf(lp, -1) {
			continue
		}
		next[i] = math.Exp(lp - maxLog)
		total += next[i]
	}
	if total <= massEpsilon || math.IsNaN(total) {
		return ErrDegenerateUpdate
	}
	for i := range next {
		next[i] /= total
	}
	s.mass = next
	return nil
}

// ZeroCell removes the mass at a visited cell (the agent stood there and
// did not find the source) and renormalizes. Returns ErrDegenerateUpdate
// if that cell held essentially all remaining mass.
func (s *State) ZeroCell(cell plume.Cell) error {
	idx := s.grid.Index(cell)
	removed := s.mass[idx]
	remaining := s.Sum() - removed
	if remaining <= massEpsilon {
		return ErrDegenerateUpdate
	}
	s.mass[idx] = 0
	for i := range s.mass {
		s.mass[i] /= remaining
	}
	return nil
}

// Collapse concentrates the whole distribution on a single cell (the
// source was found there).
func (s *State) Collapse(cell plume.Cell) {
	for i := range s.mass {
		s.mass[i] = 0
	}
	s.mass[s.grid.Index(cell)] = 1.0
}

// Entropy in bits of the current distribution.
func (s *State) Entropy() float64 {
	h := 0.0
	for _, m := range s.mass {
		if m > massEpsilon {
			h -= m * math.Log2(m)
		}
	}
	return h
}

// ExpectedManhattan is the probability-weighted Manhattan distance from
// the given cell to the source.
func (s *State) ExpectedManhattan(from plume.Cell) float64 {
	d := 0.0
	for i, m := range s.mass {
		if m <= 0 {
			continue
		}
		d += m * plume.Manhattan(from, s.grid.CellAt(i))
	}
	return d
}

// Mode is the most probable candidate cell; ties break toward the lowest
// index so the result is deterministic.
func (s *State) Mode() plume.Cell {
	best := 0
	for i, m := range s.mass {
		if m > s.mass[best] {
			best = i
		}
	}
	return s.grid.CellAt(best)
}

// ExpectedPosition is the mass-weighted mean source coordinate.
func (s *State) ExpectedPosition() (float64, float64) {
	var ex, ey float64
	for i, m := range s.mass {
		if m <= 0 {
			continue
		}
		c := s.grid.CellAt(i)
		ex += m * float64(c.X)
		ey += m * float64(c.Y)
	}
	return ex, ey
}

// Sample draws a cell from the distribution; used to place the hidden
// source at episode reset.
func (s *State) Sample(rng *rand.Rand) plume.Cell {
	u := rng.Float64()
	acc := 0.0
	last := 0
	for i, m := range s.mass {
		if m <= 0 {
			continue
		}
		acc += m
		last = i
		if u < acc {
			return s.grid.CellAt(i)
		}
	}
	return s.grid.CellAt(last)
}

// Masses returns a read-only view of the raw distribution, indexed by
// grid cell index.
func (s *State) Masses() []float64 { return s.mass }
