package plume

import (
	"fmt"
	"math"
)

// Cell is a discrete grid coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid is the 2D search domain. Candidate source locations are its cells.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func NewGrid(width, height int) (Grid, error) {
	if width < 2 || height < 2 {
		return Grid{}, fmt.Errorf("grid must be at least 2x2, got %dx%d", width, height)
	}
	return Grid{Width: width, Height: height}, nil
}

func (g Grid) Cells() int { return g.Width * g.Height }

func (g Grid) Contains(c Cell) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

func (g Grid) Index(c Cell) int { return c.Y*g.Width + c.X }

func (g Grid) CellAt(index int) Cell {
	return Cell{X: index % g.Width, Y: index / g.Width}
}

// Norm selects the distance measure used by the transport model.
type Norm string

const (
	NormEuclidean Norm = "euclidean"
	NormManhattan Norm = "manhattan"
	NormChebyshev Norm = "chebyshev"
)

func ParseNorm(name string) (Norm, error) {
	switch Norm(name) {
	case NormEuclidean, NormManhattan, NormChebyshev:
		return Norm(name), nil
	default:
		return "", fmt.Errorf("unsupported norm: %s", name)
	}
}

// Distance of a displacement under the given norm.
func (n Norm) Distance(dx, dy int) float64 {
	ax, ay := math.Abs(float64(dx)), math.Abs(float64(dy))
	switch n {
	case NormManhattan:
		return ax + ay
	case NormChebyshev:
		return math.Max(ax, ay)
	default:
		return math.Hypot(ax, ay)
	}
}

// Manhattan is the step-count distance between cells, used by reward
// shaping and the distance-minimizing heuristics.
func Manhattan(a, b Cell) float64 {
	return math.Abs(float64(a.X-b.X)) + math.Abs(float64(a.Y-b.Y))
}
