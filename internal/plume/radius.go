package plume

import "math/rand"

// RadiusModel is a deterministic detector: exactly one hit when the agent
// is within Radius of the source, zero otherwise. Useful as a noiseless
// baseline and for exercising the belief filter with a known-sharp
// likelihood.
type RadiusModel struct {
	Radius float64
	Metric Norm
}

func (m RadiusModel) NumHits() int { return 2 }

func (m RadiusModel) norm() Norm {
	if m.Metric == "" {
		return NormEuclidean
	}
	return m.Metric
}

func (m RadiusModel) detects(agent, candidate Cell) bool {
	return m.norm().Distance(agent.X-candidate.X, agent.Y-candidate.Y) <= m.Radius
}

func (m RadiusModel) Likelihood(hit int, agent, candidate Cell) float64 {
	detect := m.detects(agent, candidate)
	if (hit == 1) == detect {
		return 1.0
	}
	return likelihoodFloor
}

func (m RadiusModel) SampleHit(_ *rand.Rand, agent, source Cell) int {
	if m.detects(agent, source) {
		return 1
	}
	return 0
}
