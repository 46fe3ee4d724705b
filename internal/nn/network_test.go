package nn

import (
	"math"
	"math/rand"
	"testing"

	"plumetrack/internal/model"
)

func TestNewMLPShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net, err := NewMLP(rng, []int{5, 8, 3}, "relu", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if net.InputSize() != 5 || net.OutputSize() != 3 {
		t.Fatalf("sizes = %d in, %d out, want 5 in, 3 out", net.InputSize(), net.OutputSize())
	}
	out, err := net.Forward([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("output length = %d, want 3", len(out))
	}
}

func TestNewMLPRejectsBadSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewMLP(rng, []int{4}, "relu", "identity"); err == nil {
		t.Fatal("expected error for single-size network")
	}
	if _, err := NewMLP(rng, []int{4, 0, 2}, "relu", "identity"); err == nil {
		t.Fatal("expected error for zero-width layer")
	}
	if _, err := NewMLP(rng, []int{4, 2}, "warp", "identity"); err == nil {
		t.Fatal("expected error for unknown hidden activation")
	}
	if _, err := NewMLP(rng, []int{4, 2}, "relu", "warp"); err == nil {
		t.Fatal("expected error for unknown output activation")
	}
}

func TestForwardRejectsWrongInputSize(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net, err := NewMLP(rng, []int{3, 2}, "tanh", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if _, err := net.Forward([]float64{1, 2}); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestParamsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net, err := NewMLP(rng, []int{4, 6, 2}, "tanh", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	restored, err := FromParams(net.Params())
	if err != nil {
		t.Fatalf("FromParams: %v", err)
	}
	input := []float64{0.3, -0.5, 0.9, 0.0}
	a, err := net.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := restored.Forward(input)
	if err != nil {
		t.Fatalf("Forward (restored): %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output[%d]: %v != %v", i, a[i], b[i])
		}
	}
}

func TestFromParamsValidatesShape(t *testing.T) {
	bad := model.PolicyParams{Layers: []model.LayerParams{{
		Inputs: 3, Outputs: 2, Weights: []float64{1, 2, 3}, Biases: []float64{0, 0}, Activation: "identity",
	}}}
	if _, err := FromParams(bad); err == nil {
		t.Fatal("expected error for weight count mismatch")
	}
	mismatched := model.PolicyParams{Layers: []model.LayerParams{
		{Inputs: 2, Outputs: 3, Weights: make([]float64, 6), Biases: make([]float64, 3), Activation: "relu"},
		{Inputs: 4, Outputs: 1, Weights: make([]float64, 4), Biases: make([]float64, 1), Activation: "identity"},
	}}
	if _, err := FromParams(mismatched); err == nil {
		t.Fatal("expected error for inter-layer size mismatch")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net, err := NewMLP(rng, []int{2, 4, 1}, "tanh", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	frozen := net.Clone()
	input := []float64{0.5, -0.25}
	before, err := frozen.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Train the original; the clone must not move.
	for i := 0; i < 20; i++ {
		_, err := net.Step(input, func(out []float64) []float64 {
			return []float64{out[0] - 1.0}
		}, 0.1)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	after, err := frozen.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if before[0] != after[0] {
		t.Fatalf("clone output drifted: %v != %v", before[0], after[0])
	}
}

// Gradient descent on a fixed target must reduce squared error.
func TestStepConvergesOnRegressionTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net, err := NewMLP(rng, []int{2, 8, 1}, "tanh", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	input := []float64{0.4, -0.7}
	const target = 0.6

	loss := func() float64 {
		out, err := net.Forward(input)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		d := out[0] - target
		return d * d
	}

	initial := loss()
	for i := 0; i < 200; i++ {
		_, err := net.Step(input, func(out []float64) []float64 {
			return []float64{2 * (out[0] - target)}
		}, 0.05)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	final := loss()
	if final >= initial {
		t.Fatalf("loss did not decrease: %v -> %v", initial, final)
	}
	if final > 1e-4 {
		t.Fatalf("loss after training = %v, want < 1e-4", final)
	}
}

func TestHasNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	net, err := NewMLP(rng, []int{2, 2}, "identity", "identity")
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if net.HasNaN() {
		t.Fatal("fresh network reports NaN")
	}
	params := net.Params()
	params.Layers[0].Weights[0] = math.NaN()
	poisoned, err := FromParams(params)
	if err != nil {
		t.Fatalf("FromParams: %v", err)
	}
	if !poisoned.HasNaN() {
		t.Fatal("NaN weight not detected")
	}
}
