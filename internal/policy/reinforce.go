package policy

import (
	"fmt"
	"math"
	"math/rand"

	"plumetrack/internal/model"
	"plumetrack/internal/nn"
	"plumetrack/internal/search"
)

// Reinforce is a Monte Carlo policy-gradient learner: the network emits
// action logits and is updated with return-weighted log-probability
// gradients against a batch-mean baseline.
type Reinforce struct {
	net *nn.Network
	lr  float64
}

func NewReinforce(rng *rand.Rand, sizes []int, lr float64) (*Reinforce, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	net, err := nn.NewMLP(rng, sizes, "tanh", "identity")
	if err != nil {
		return nil, err
	}
	return &Reinforce{net: net, lr: lr}, nil
}

func (r *Reinforce) Name() string { return "reinforce" }

func softmax(logits []float64) []float64 {
	max := logits[argmax(logits)]
	probs := make([]float64, len(logits))
	total := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// SelectAction samples from the softmax policy. Epsilon-greedy mixing is
// applied on top so the shared exploration schedule still bites early.
func (r *Reinforce) SelectAction(rng *rand.Rand, features []float64, epsilon float64) (search.Action, error) {
	if epsilon > 0 && rng.Float64() < epsilon {
		return search.Action(rng.Intn(search.NumActions)), nil
	}
	logits, err := r.net.Forward(features)
	if err != nil {
		return 0, err
	}
	probs := softmax(logits)
	u := rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if u < acc {
			return search.Action(i), nil
		}
	}
	return search.Action(len(probs) - 1), nil
}

// Update ascends the return-weighted log-likelihood of the taken actions.
// The reported loss is the mean negative log-probability weighted by
// advantage, which trends down as the policy concentrates on actions that
// earned above-baseline returns.
func (r *Reinforce) Update(batch []Sample) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	baseline := 0.0
	for _, s := range batch {
		baseline += s.Return
	}
	baseline /= float64(len(batch))

	totalLoss := 0.0
	for _, s := range batch {
		advantage := s.Return - baseline
		_, err := r.net.Step(s.Features, func(logits []float64) []float64 {
			probs := softmax(logits)
			totalLoss += -math.Log(math.Max(probs[int(s.Action)], 1e-12)) * advantage
			// d(-log pi(a))/dlogits = probs - onehot(a)
			grad := make([]float64, len(logits))
			for i, p := range probs {
				grad[i] = p * advantage / float64(len(batch))
			}
			grad[int(s.Action)] -= advantage / float64(len(batch))
			return grad
		}, r.lr)
		if err != nil {
			return 0, err
		}
	}
	return totalLoss / float64(len(batch)), nil
}

func (r *Reinforce) Params() model.PolicyParams { return r.net.Params() }

func (r *Reinforce) Restore(params model.PolicyParams) error {
	net, err := nn.FromParams(params)
	if err != nil {
		return err
	}
	r.net = net
	return nil
}

func (r *Reinforce) SyncTarget() {}

func (r *Reinforce) HasNaN() bool { return r.net.HasNaN() }
