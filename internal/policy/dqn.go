package policy

import (
	"fmt"
	"math/rand"

	"plumetrack/internal/model"
	"plumetrack/internal/nn"
	"plumetrack/internal/search"
)

// DQN learns an action-value function with an online network and a frozen
// target network for bootstrapping.
type DQN struct {
	online   *nn.Network
	target   *nn.Network
	lr       float64
	discount float64
}

func NewDQN(rng *rand.Rand, sizes []int, lr, discount float64) (*DQN, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	if discount <= 0 || discount > 1 {
		return nil, fmt.Errorf("discount must be in (0, 1]")
	}
	online, err := nn.NewMLP(rng, sizes, "relu", "identity")
	if err != nil {
		return nil, err
	}
	return &DQN{
		online:   online,
		target:   online.Clone(),
		lr:       lr,
		discount: discount,
	}, nil
}

func (d *DQN) Name() string { return "dqn" }

func (d *DQN) SelectAction(rng *rand.Rand, features []float64, epsilon float64) (search.Action, error) {
	if epsilon > 0 && rng.Float64() < epsilon {
		return search.Action(rng.Intn(search.NumActions)), nil
	}
	q, err := d.online.Forward(features)
	if err != nil {
		return 0, err
	}
	return search.Action(argmax(q)), nil
}

// Update runs one gradient step per sample against the frozen target
// values and returns the mean squared temporal-difference error.
func (d *DQN) Update(batch []Sample) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	totalLoss := 0.0
	for _, s := range batch {
		target := s.Reward
		if !s.Done {
			next, err := d.target.Forward(s.NextFeatures)
			if err != nil {
				return 0, err
			}
			target += d.discount * next[argmax(next)]
		}

		var tdErr float64
		_, err := d.online.Step(s.Features, func(q []float64) []float64 {
			tdErr = q[int(s.Action)] - target
			grad := make([]float64, len(q))
			grad[int(s.Action)] = 2 * tdErr / float64(len(batch))
			return grad
		}, d.lr)
		if err != nil {
			return 0, err
		}
		totalLoss += tdErr * tdErr
	}
	return totalLoss / float64(len(batch)), nil
}

func (d *DQN) Params() model.PolicyParams { return d.online.Params() }

func (d *DQN) Restore(params model.PolicyParams) error {
	net, err := nn.FromParams(params)
	if err != nil {
		return err
	}
	d.online = net
	d.target = net.Clone()
	return nil
}

func (d *DQN) SyncTarget() { d.target = d.online.Clone() }

func (d *DQN) HasNaN() bool { return d.online.HasNaN() || d.target.HasNaN() }
