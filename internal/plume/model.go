package plume

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// likelihoodFloor keeps every likelihood strictly positive so a single
// unlucky observation can never zero out the posterior.
const likelihoodFloor = 1e-10

// ObservationModel scores and samples detection events. Likelihood and
// SampleHit must describe the same distribution.
type ObservationModel interface {
	NumHits() int
	Likelihood(hit int, agent, candidate Cell) float64
	SampleHit(rng *rand.Rand, agent, source Cell) int
}

// Params are the dimensionless transport parameters: emission rate,
// mean wind along +x, and turbulence coherence time.
type Params struct {
	EmissionRate  float64
	MeanWind      float64
	CoherenceTime float64
	NumHits       int
	Norm          Norm
}

// Model is the wind-advected Poisson detection model. Hit-count
// probabilities depend only on the agent-source displacement, so they are
// precomputed once over the (2W-1)x(2H-1) displacement window and every
// likelihood query is a table lookup.
type Model struct {
	grid       Grid
	params     Params
	corrLength float64
	kernel     [][]float64 // [hit][displacement index]
}

func NewModel(grid Grid, params Params) (*Model, error) {
	if params.EmissionRate <= 0 {
		return nil, fmt.Errorf("emission rate must be > 0")
	}
	if params.MeanWind < 0 {
		return nil, fmt.Errorf("mean wind must be >= 0")
	}
	if params.CoherenceTime <= 0 {
		return nil, fmt.Errorf("coherence time must be > 0")
	}
	if params.NumHits < 2 {
		return nil, fmt.Errorf("num hits must be >= 2")
	}
	if params.Norm == "" {
		params.Norm = NormEuclidean
	}

	corrLength := math.Inf(1) // windless plume does not decay downwind
	if params.MeanWind > 0 {
		corrLength = math.Sqrt(
			(params.CoherenceTime / (params.MeanWind * params.MeanWind)) /
				(1 + params.CoherenceTime/4))
	}
	m := &Model{grid: grid, params: params, corrLength: corrLength}
	if err := m.computeKernel(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) NumHits() int { return m.params.NumHits }

// MeanHits is the expected detection count for an agent displaced by
// (dx, dy) from the source; dx > 0 means downwind of the source.
func (m *Model) MeanHits(dx, dy int) float64 {
	d := m.params.Norm.Distance(dx, dy)
	if d == 0 {
		d = 1.0
	}
	return m.params.EmissionRate / d *
		math.Exp(0.5*m.params.MeanWind*float64(dx)-d/m.corrLength)
}

// HitProbabilities returns the truncated Poisson distribution over hit
// classes for displacement (dx, dy). The top class absorbs the tail.
func (m *Model) HitProbabilities(dx, dy int) []float64 {
	idx := m.displacementIndex(dx, dy)
	probs := make([]float64, m.params.NumHits)
	for h := range probs {
		probs[h] = m.kernel[h][idx]
	}
	return probs
}

func (m *Model) hitProbabilities(mu float64) []float64 {
	dist := distuv.Poisson{Lambda: mu}
	probs := make([]float64, m.params.NumHits)
	acc := 0.0
	for h := 0; h < m.params.NumHits-1; h++ {
		probs[h] = dist.Prob(float64(h))
		acc += probs[h]
	}
	probs[m.params.NumHits-1] = math.Max(0, 1.0-acc)
	return probs
}

func (m *Model) computeKernel() error {
	width := 2*m.grid.Width - 1
	height := 2*m.grid.Height - 1
	size := width * height

	m.kernel = make([][]float64, m.params.NumHits)
	for h := range m.kernel {
		m.kernel[h] = make([]float64, size)
	}

	zeroTopClass := true
	for dy := -(m.grid.Height - 1); dy <= m.grid.Height-1; dy++ {
		for dx := -(m.grid.Width - 1); dx <= m.grid.Width-1; dx++ {
			idx := m.displacementIndex(dx, dy)
			probs := m.hitProbabilities(m.MeanHits(dx, dy))
			for h, p := range probs {
				m.kernel[h][idx] = p
			}
			if probs[m.params.NumHits-1] > likelihoodFloor {
				zeroTopClass = false
			}
		}
	}
	if zeroTopClass {
		return fmt.Errorf("num_hits=%d is too large: the top hit class has zero probability everywhere", m.params.NumHits)
	}
	return nil
}

func (m *Model) displacementIndex(dx, dy int) int {
	return (dy+m.grid.Height-1)*(2*m.grid.Width-1) + (dx + m.grid.Width - 1)
}

// Likelihood is P(hit | agent, source=candidate), floored so it is strictly
// positive everywhere, including when the agent sits on the candidate cell.
func (m *Model) Likelihood(hit int, agent, candidate Cell) float64 {
	if hit < 0 || hit >= m.params.NumHits {
		return likelihoodFloor
	}
	idx := m.displacementIndex(agent.X-candidate.X, agent.Y-candidate.Y)
	p := m.kernel[hit][idx]
	if p < likelihoodFloor {
		return likelihoodFloor
	}
	return p
}

// SampleHit draws a detection count from the same distribution that
// Likelihood scores.
func (m *Model) SampleHit(rng *rand.Rand, agent, source Cell) int {
	idx := m.displacementIndex(agent.X-source.X, agent.Y-source.Y)
	u := rng.Float64()
	acc := 0.0
	for h := 0; h < m.params.NumHits-1; h++ {
		acc += m.kernel[h][idx]
		if u < acc {
			return h
		}
	}
	return m.params.NumHits - 1
}
