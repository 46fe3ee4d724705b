package nn

import (
	"fmt"
	"math"
	"math/rand"

	"plumetrack/internal/model"
)

type layer struct {
	inputs     int
	outputs    int
	weights    []float64 // row-major, outputs x inputs
	biases     []float64
	activation string
	fn         ActivationFunc
}

// Network is a fully connected feed-forward stack. It is not safe for
// concurrent use; each policy owns its own networks.
type Network struct {
	layers []layer
}

// NewMLP builds a network with the given layer sizes, hidden activation
// on every layer but the last, and output activation on the last.
// Weights start at rng-driven values scaled by the layer fan-in.
func NewMLP(rng *rand.Rand, sizes []int, hiddenActivation, outputActivation string) (*Network, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("network needs at least input and output sizes, got %d", len(sizes))
	}
	// Both names are checked even when a two-size network has no hidden
	// layer, so a typo fails here and not on a later deeper build.
	if _, err := GetActivation(hiddenActivation); err != nil {
		return nil, fmt.Errorf("hidden activation: %w", err)
	}
	if _, err := GetActivation(outputActivation); err != nil {
		return nil, fmt.Errorf("output activation: %w", err)
	}
	net := &Network{layers: make([]layer, 0, len(sizes)-1)}
	for i := 0; i < len(sizes)-1; i++ {
		in, out := sizes[i], sizes[i+1]
		if in <= 0 || out <= 0 {
			return nil, fmt.Errorf("layer %d: sizes must be positive, got %dx%d", i, in, out)
		}
		name := hiddenActivation
		if i == len(sizes)-2 {
			name = outputActivation
		}
		fn, err := GetActivation(name)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		l := layer{
			inputs:     in,
			outputs:    out,
			weights:    make([]float64, out*in),
			biases:     make([]float64, out),
			activation: name,
			fn:         fn,
		}
		scale := 1.0 / math.Sqrt(float64(in))
		for j := range l.weights {
			l.weights[j] = rng.NormFloat64() * scale
		}
		net.layers = append(net.layers, l)
	}
	return net, nil
}

// FromParams reconstructs a network from checkpointed parameters.
func FromParams(params model.PolicyParams) (*Network, error) {
	if len(params.Layers) == 0 {
		return nil, fmt.Errorf("no layers in parameters")
	}
	net := &Network{layers: make([]layer, 0, len(params.Layers))}
	for i, lp := range params.Layers {
		if len(lp.Weights) != lp.Outputs*lp.Inputs {
			return nil, fmt.Errorf("layer %d: %d weights for %dx%d shape",
				i, len(lp.Weights), lp.Outputs, lp.Inputs)
		}
		if len(lp.Biases) != lp.Outputs {
			return nil, fmt.Errorf("layer %d: %d biases for %d outputs", i, len(lp.Biases), lp.Outputs)
		}
		if i > 0 && lp.Inputs != params.Layers[i-1].Outputs {
			return nil, fmt.Errorf("layer %d: %d inputs after %d outputs",
				i, lp.Inputs, params.Layers[i-1].Outputs)
		}
		fn, err := GetActivation(lp.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		net.layers = append(net.layers, layer{
			inputs:     lp.Inputs,
			outputs:    lp.Outputs,
			weights:    append([]float64(nil), lp.Weights...),
			biases:     append([]float64(nil), lp.Biases...),
			activation: lp.Activation,
			fn:         fn,
		})
	}
	return net, nil
}

// Params snapshots the network into the checkpoint representation.
func (n *Network) Params() model.PolicyParams {
	out := model.PolicyParams{Layers: make([]model.LayerParams, len(n.layers))}
	for i, l := range n.layers {
		out.Layers[i] = model.LayerParams{
			Inputs:     l.inputs,
			Outputs:    l.outputs,
			Weights:    append([]float64(nil), l.weights...),
			Biases:     append([]float64(nil), l.biases...),
			Activation: l.activation,
		}
	}
	return out
}

func (n *Network) InputSize() int  { return n.layers[0].inputs }
func (n *Network) OutputSize() int { return n.layers[len(n.layers)-1].outputs }

// Clone deep-copies the network; used to freeze target parameters.
func (n *Network) Clone() *Network {
	cp, err := FromParams(n.Params())
	if err != nil {
		panic(err) // params from a valid network are always valid
	}
	return cp
}

// Forward runs one input through the stack.
func (n *Network) Forward(input []float64) ([]float64, error) {
	if len(input) != n.layers[0].inputs {
		return nil, fmt.Errorf("input size %d, network expects %d", len(input), n.layers[0].inputs)
	}
	act := input
	for i := range n.layers {
		l := &n.layers[i]
		next := make([]float64, l.outputs)
		for o := 0; o < l.outputs; o++ {
			sum := l.biases[o]
			row := l.weights[o*l.inputs : (o+1)*l.inputs]
			for j, w := range row {
				sum += w * act[j]
			}
			next[o] = l.fn(sum)
		}
		act = next
	}
	return act, nil
}

// Step runs a forward pass, backpropagates the given gradient of the
// loss with respect to the network output, and applies one gradient
// descent update with the given learning rate. Returns the pre-update
// output so the caller can form its loss.
func (n *Network) Step(input []float64, outputGrad func(output []float64) []float64, lr float64) ([]float64, error) {
	if len(input) != n.layers[0].inputs {
		return nil, fmt.Errorf("input size %d, network expects %d", len(input), n.layers[0].inputs)
	}

	// Forward, keeping per-layer pre-activations and activations.
	acts := make([][]float64, len(n.layers)+1)
	pres := make([][]float64, len(n.layers))
	acts[0] = input
	for i := range n.layers {
		l := &n.layers[i]
		pre := make([]float64, l.outputs)
		out := make([]float64, l.outputs)
		for o := 0; o < l.outputs; o++ {
			sum := l.biases[o]
			row := l.weights[o*l.inputs : (o+1)*l.inputs]
			for j, w := range row {
				sum += w * acts[i][j]
			}
			pre[o] = sum
			out[o] = l.fn(sum)
		}
		pres[i] = pre
		acts[i+1] = out
	}

	output := acts[len(n.layers)]
	grad := outputGrad(output)
	if len(grad) != len(output) {
		return nil, fmt.Errorf("gradient size %d, output size %d", len(grad), len(output))
	}

	// Backward, updating in place layer by layer.
	delta := append([]float64(nil), grad...)
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := &n.layers[i]
		for o := 0; o < l.outputs; o++ {
			d, err := Derivative(l.activation, pres[i][o])
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			delta[o] *= d
		}

		var prev []float64
		if i > 0 {
			prev = make([]float64, l.inputs)
			for o := 0; o < l.outputs; o++ {
				row := l.weights[o*l.inputs : (o+1)*l.inputs]
				for j, w := range row {
					prev[j] += w * delta[o]
				}
			}
		}

		for o := 0; o < l.outputs; o++ {
			row := l.weights[o*l.inputs : (o+1)*l.inputs]
			for j := range row {
				row[j] -= lr * delta[o] * acts[i][j]
			}
			l.biases[o] -= lr * delta[o]
		}
		if i > 0 {
			delta = prev
		}
	}
	return output, nil
}

// HasNaN reports whether any weight or bias is NaN or infinite.
func (n *Network) HasNaN() bool {
	for _, l := range n.layers {
		for _, w := range l.weights {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return true
			}
		}
		for _, b := range l.biases {
			if math.IsNaN(b) || math.IsInf(b, 0) {
				return true
			}
		}
	}
	return false
}
