package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalid tags configuration failures so callers can abort before any
// training starts.
var ErrInvalid = errors.New("invalid configuration")

const (
	AlgorithmDQN       = "dqn"
	AlgorithmReinforce = "reinforce"
)

const (
	EvictionOldestFirst = "oldest_first"
)

// Config enumerates every recognized training option. Loading rejects
// unknown keys; Validate rejects out-of-range values before a run starts.
type Config struct {
	// Domain geometry and transport model.
	GridWidth     int     `json:"grid_width"`
	GridHeight    int     `json:"grid_height"`
	StartX        int     `json:"start_x"`
	StartY        int     `json:"start_y"`
	EmissionRate  float64 `json:"emission_rate"`
	MeanWind      float64 `json:"mean_wind"`
	CoherenceTime float64 `json:"coherence_time"`
	NumHits       int     `json:"num_hits"`
	Norm          string  `json:"norm"`

	// Episode shape.
	StepBudget        int     `json:"step_budget"`
	MinSourceDistance float64 `json:"min_source_distance"`
	InitialHit        int     `json:"initial_hit"` // -1 disables the initial observation

	// Reward shaping.
	RewardStepCost        float64 `json:"reward_step_cost"`
	RewardFoundBonus      float64 `json:"reward_found_bonus"`
	ShapingEntropyWeight  float64 `json:"shaping_entropy_weight"`
	ShapingDistanceWeight float64 `json:"shaping_distance_weight"`

	// Algorithm and approximator.
	Algorithm    string  `json:"algorithm"`
	HiddenLayers int     `json:"hidden_layers"`
	HiddenUnits  int     `json:"hidden_units"`
	EncoderPool  int     `json:"encoder_pool"`
	LearningRate float64 `json:"learning_rate"`
	Discount     float64 `json:"discount"`

	// Experience replay.
	ReplayCapacity int    `json:"replay_capacity"`
	ReplayEviction string `json:"replay_eviction"`
	BatchSize      int    `json:"batch_size"`
	GDSteps        int    `json:"gd_steps"`

	// Exploration schedule.
	EpsilonInit  float64 `json:"epsilon_init"`
	EpsilonFloor float64 `json:"epsilon_floor"`
	EpsilonDecay int     `json:"epsilon_decay"`

	// Target network.
	TargetSyncEvery int `json:"target_sync_every"`

	// Run shape.
	Iterations           int `json:"iterations"`
	EpisodesPerIteration int `json:"episodes_per_iteration"`
	Workers              int `json:"workers"`
	EvalEvery            int `json:"eval_every"`
	EvalEpisodes         int `json:"eval_episodes"`
	CheckpointEvery      int `json:"checkpoint_every"`

	// Plateau stopping on the moving-average return.
	PlateauWindow    int     `json:"plateau_window"`
	PlateauTolerance float64 `json:"plateau_tolerance"`

	Seed int64 `json:"seed"`
}

func Default() Config {
	return Config{
		GridWidth:             19,
		GridHeight:            11,
		StartX:                15,
		StartY:                5,
		EmissionRate:          2.5,
		MeanWind:              2.0,
		CoherenceTime:         150,
		NumHits:               2,
		Norm:                  "euclidean",
		StepBudget:            200,
		MinSourceDistance:     1,
		InitialHit:            -1,
		RewardStepCost:        1.0,
		RewardFoundBonus:      10.0,
		Algorithm:             AlgorithmDQN,
		HiddenLayers:          2,
		HiddenUnits:           64,
		EncoderPool:           4,
		LearningRate:          0.001,
		Discount:              0.98,
		ReplayCapacity:        500,
		ReplayEviction:        EvictionOldestFirst,
		BatchSize:             64,
		GDSteps:               4,
		EpsilonInit:           1.0,
		EpsilonFloor:          0.1,
		EpsilonDecay:          1000,
		TargetSyncEvery:       10,
		Iterations:            500,
		EpisodesPerIteration:  8,
		Workers:               4,
		EvalEvery:             50,
		EvalEpisodes:          20,
		CheckpointEvery:       25,
		PlateauWindow:         0,
		PlateauTolerance:      0.01,
		Seed:                  1,
	}
}

// Load reads a JSON parameter file over the defaults. Unknown keys are an
// error: a typo must not silently fall back to a default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read parameter file: %v", ErrInvalid, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.GridWidth < 2 || c.GridHeight < 2 {
		return fmt.Errorf("%w: grid must be at least 2x2, got %dx%d", ErrInvalid, c.GridWidth, c.GridHeight)
	}
	if c.StartX < 0 || c.StartX >= c.GridWidth || c.StartY < 0 || c.StartY >= c.GridHeight {
		return fmt.Errorf("%w: start cell (%d,%d) outside %dx%d grid", ErrInvalid, c.StartX, c.StartY, c.GridWidth, c.GridHeight)
	}
	if c.EmissionRate <= 0 {
		return fmt.Errorf("%w: emission_rate must be > 0", ErrInvalid)
	}
	if c.MeanWind < 0 {
		return fmt.Errorf("%w: mean_wind must be >= 0", ErrInvalid)
	}
	if c.CoherenceTime <= 0 {
		return fmt.Errorf("%w: coherence_time must be > 0", ErrInvalid)
	}
	if c.NumHits < 2 {
		return fmt.Errorf("%w: num_hits must be >= 2", ErrInvalid)
	}
	switch c.Norm {
	case "euclidean", "manhattan", "chebyshev":
	default:
		return fmt.Errorf("%w: unsupported norm: %s", ErrInvalid, c.Norm)
	}
	if c.StepBudget <= 0 {
		return fmt.Errorf("%w: step_budget must be > 0", ErrInvalid)
	}
	if c.MinSourceDistance < 0 {
		return fmt.Errorf("%w: min_source_distance must be >= 0", ErrInvalid)
	}
	// The farthest cell from the start sits in the opposite corner; a
	// larger minimum distance leaves no legal source placement.
	maxDX := c.StartX
	if d := c.GridWidth - 1 - c.StartX; d > maxDX {
		maxDX = d
	}
	maxDY := c.StartY
	if d := c.GridHeight - 1 - c.StartY; d > maxDY {
		maxDY = d
	}
	if c.MinSourceDistance > float64(maxDX+maxDY) {
		return fmt.Errorf("%w: min_source_distance %g unreachable from (%d,%d) on a %dx%d grid",
			ErrInvalid, c.MinSourceDistance, c.StartX, c.StartY, c.GridWidth, c.GridHeight)
	}
	if c.InitialHit >= c.NumHits {
		return fmt.Errorf("%w: initial_hit must be < num_hits", ErrInvalid)
	}
	switch c.Algorithm {
	case AlgorithmDQN, AlgorithmReinforce:
	default:
		return fmt.Errorf("%w: unsupported algorithm: %s", ErrInvalid, c.Algorithm)
	}
	if c.HiddenLayers < 1 || c.HiddenUnits < 1 {
		return fmt.Errorf("%w: approximator needs at least one hidden layer and unit", ErrInvalid)
	}
	if c.EncoderPool < 1 {
		return fmt.Errorf("%w: encoder_pool must be >= 1", ErrInvalid)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be > 0", ErrInvalid)
	}
	if c.Discount <= 0 || c.Discount > 1 {
		return fmt.Errorf("%w: discount must be in (0, 1]", ErrInvalid)
	}
	if c.ReplayCapacity <= 0 {
		return fmt.Errorf("%w: replay_capacity must be > 0", ErrInvalid)
	}
	switch c.ReplayEviction {
	case EvictionOldestFirst:
	default:
		return fmt.Errorf("%w: unsupported replay_eviction: %s", ErrInvalid, c.ReplayEviction)
	}
	if c.BatchSize <= 0 || c.GDSteps <= 0 {
		return fmt.Errorf("%w: batch_size and gd_steps must be > 0", ErrInvalid)
	}
	if c.EpsilonInit < 0 || c.EpsilonInit > 1 || c.EpsilonFloor < 0 || c.EpsilonFloor > c.EpsilonInit {
		return fmt.Errorf("%w: epsilon schedule requires 0 <= floor <= init <= 1", ErrInvalid)
	}
	if c.EpsilonDecay <= 0 {
		return fmt.Errorf("%w: epsilon_decay must be > 0", ErrInvalid)
	}
	if c.TargetSyncEvery <= 0 {
		return fmt.Errorf("%w: target_sync_every must be > 0", ErrInvalid)
	}
	if c.Iterations <= 0 || c.EpisodesPerIteration <= 0 {
		return fmt.Errorf("%w: iterations and episodes_per_iteration must be > 0", ErrInvalid)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0", ErrInvalid)
	}
	if c.EvalEvery < 0 || c.EvalEpisodes <= 0 {
		return fmt.Errorf("%w: eval_every must be >= 0 and eval_episodes > 0", ErrInvalid)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("%w: checkpoint_every must be > 0", ErrInvalid)
	}
	if c.PlateauWindow < 0 {
		return fmt.Errorf("%w: plateau_window must be >= 0", ErrInvalid)
	}
	return nil
}
