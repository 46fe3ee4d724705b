package search

import (
	"errors"
	"fmt"
	"math/rand"

	"plumetrack/internal/belief"
	"plumetrack/internal/plume"
)

// ErrInvalidState reports a step on an episode that is not running.
// The episode is unusable until Reset.
var ErrInvalidState = errors.New("invalid episode state")

// Phase is the life-cycle state of an episode.
type Phase string

const (
	PhaseReset    Phase = "reset"
	PhaseRunning  Phase = "running"
	PhaseFound    Phase = "found"
	PhaseTimedOut Phase = "timed_out"
)

// Action is one of the four axis-aligned moves. The encoding packs the
// axis in the high bit and the direction in the low bit.
type Action int

const (
	MoveXNeg Action = iota
	MoveXPos
	MoveYNeg
	MoveYPos

	NumActions = 4
)

func (a Action) Valid() bool { return a >= 0 && a < NumActions }

// Delta decomposes the action into a unit move.
func (a Action) Delta() (dx, dy int) {
	axis := int(a) / 2
	dir := 2*(int(a)%2) - 1
	if axis == 0 {
		return dir, 0
	}
	return 0, dir
}

func (a Action) String() string {
	switch a {
	case MoveXNeg:
		return "x-"
	case MoveXPos:
		return "x+"
	case MoveYNeg:
		return "y-"
	case MoveYPos:
		return "y+"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// RewardSpec shapes the per-step reward. StepCost is subtracted every
// step; FoundBonus is added on the terminal finding step. The shaping
// terms reward entropy reduction and expected-distance reduction and are
// zero on terminal steps, so they change the gradient of learning but
// not the ranking of completed episodes.
type RewardSpec struct {
	StepCost       float64
	FoundBonus     float64
	EntropyWeight  float64
	DistanceWeight float64
}

// Config fixes the geometry, observation model, and episode limits.
type Config struct {
	Grid              plume.Grid
	Model             plume.ObservationModel
	StepBudget        int
	MinSourceDistance float64
	Start             plume.Cell
	InitialHit        int // hit class forced at reset; -1 disables
	Reward            RewardSpec
}

func (c Config) validate() error {
	if c.Model == nil {
		return fmt.Errorf("observation model is required")
	}
	if !c.Grid.Contains(c.Start) {
		return fmt.Errorf("start cell (%d,%d) outside %dx%d grid",
			c.Start.X, c.Start.Y, c.Grid.Width, c.Grid.Height)
	}
	if c.StepBudget <= 0 {
		return fmt.Errorf("step budget must be > 0")
	}
	if c.MinSourceDistance < 0 {
		return fmt.Errorf("min source distance must be >= 0")
	}
	if c.InitialHit >= c.Model.NumHits() {
		return fmt.Errorf("initial hit %d out of range [0,%d)", c.InitialHit, c.Model.NumHits())
	}
	return nil
}

// Transition is the full record of one step, kept rich enough for both
// policy training and post-hoc inspection.
type Transition struct {
	Step          int
	Action        Action
	Hit           int
	Reward        float64
	Phase         Phase
	AgentBefore   plume.Cell
	AgentAfter    plume.Cell
	EntropyBefore float64
	EntropyAfter  float64
	Blocked       bool
	Degenerate    bool
}

// Episode is a single source-tracking run: a hidden source, a moving
// agent, and the agent's belief over where the source is. Not safe for
// concurrent use; each worker owns its own episode.
type Episode struct {
	cfg    Config
	rng    *rand.Rand
	phase  Phase
	agent  plume.Cell
	source plume.Cell
	state  *belief.State
	steps  int

	degenerateUpdates int
}

// NewEpisode validates the configuration and returns an episode in the
// reset phase. Reset must be called before the first Step.
func NewEpisode(cfg Config, rng *rand.Rand) (*Episode, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("episode config: %w", err)
	}
	return &Episode{cfg: cfg, rng: rng, phase: PhaseReset}, nil
}

// Reset draws a hidden source, rebuilds the uniform belief with the
// start cell excluded, and optionally conditions on a forced initial
// hit. The source is rejection-sampled to honor the minimum distance.
func (e *Episode) Reset() error {
	prior, err := belief.NewUniformExcluding(e.cfg.Grid, e.cfg.Start)
	if err != nil {
		return err
	}

	const maxDraws = 10000
	var source plume.Cell
	for i := 0; ; i++ {
		source = prior.Sample(e.rng)
		if plume.Manhattan(source, e.cfg.Start) >= e.cfg.MinSourceDistance {
			break
		}
		if i == maxDraws {
			return fmt.Errorf("no cell satisfies min source distance %g from (%d,%d)",
				e.cfg.MinSourceDistance, e.cfg.Start.X, e.cfg.Start.Y)
		}
	}

	e.agent = e.cfg.Start
	e.source = source
	e.state = prior
	e.steps = 0
	e.degenerateUpdates = 0
	e.phase = PhaseRunning

	if e.cfg.InitialHit >= 0 {
		if err := e.conditionOnHit(e.cfg.InitialHit); err != nil &&
			!errors.Is(err, belief.ErrDegenerateUpdate) {
			return err
		}
	}
	return nil
}

func (e *Episode) conditionOnHit(hit int) error {
	err := e.state.Update(func(c plume.Cell) float64 {
		return e.cfg.Model.Likelihood(hit, e.agent, c)
	})
	if errors.Is(err, belief.ErrDegenerateUpdate) {
		e.degenerateUpdates++
	}
	return err
}

// Step moves the agent, samples an observation, and folds it into the
// belief. Moves off the grid leave the agent in place but still consume
// a step and an observation. Returns ErrInvalidState if the episode is
// not running.
func (e *Episode) Step(action Action) (Transition, error) {
	if e.phase != PhaseRunning {
		return Transition{}, fmt.Errorf("%w: step in phase %q", ErrInvalidState, e.phase)
	}
	if !action.Valid() {
		return Transition{}, fmt.Errorf("%w: unknown action %d", ErrInvalidState, int(action))
	}

	tr := Transition{
		Step:          e.steps + 1,
		Action:        action,
		AgentBefore:   e.agent,
		EntropyBefore: e.state.Entropy(),
	}
	distBefore := e.state.ExpectedManhattan(e.agent)

	dx, dy := action.Delta()
	next := plume.Cell{X: e.agent.X + dx, Y: e.agent.Y + dy}
	if e.cfg.Grid.Contains(next) {
		e.agent = next
	} else {
		tr.Blocked = true
	}
	tr.AgentAfter = e.agent
	e.steps++

	if e.agent == e.source {
		e.state.Collapse(e.agent)
		e.phase = PhaseFound
		tr.Phase = PhaseFound
		tr.EntropyAfter = 0
		tr.Reward = -e.cfg.Reward.StepCost + e.cfg.Reward.FoundBonus
		return tr, nil
	}

	tr.Hit = e.cfg.Model.SampleHit(e.rng, e.agent, e.source)

	// The update is staged on a copy so a degenerate observation can be
	// discarded wholesale, visit-zeroing included.
	staged := e.state.Clone()
	err := staged.ZeroCell(e.agent)
	if err == nil {
		err = staged.Update(func(c plume.Cell) float64 {
			return e.cfg.Model.Likelihood(tr.Hit, e.agent, c)
		})
	}
	if err != nil {
		if !errors.Is(err, belief.ErrDegenerateUpdate) {
			return Transition{}, err
		}
		e.degenerateUpdates++
		tr.Degenerate = true
	} else {
		e.state = staged
	}

	tr.EntropyAfter = e.state.Entropy()

	if e.steps >= e.cfg.StepBudget {
		e.phase = PhaseTimedOut
		tr.Phase = PhaseTimedOut
		tr.Reward = -e.cfg.Reward.StepCost
		return tr, nil
	}

	tr.Phase = PhaseRunning
	distAfter := e.state.ExpectedManhattan(e.agent)
	shaping := e.cfg.Reward.EntropyWeight*(tr.EntropyBefore-tr.EntropyAfter) +
		e.cfg.Reward.DistanceWeight*(distBefore-distAfter)
	tr.Reward = -e.cfg.Reward.StepCost + shaping
	return tr, nil
}

func (e *Episode) Phase() Phase          { return e.phase }
func (e *Episode) Agent() plume.Cell     { return e.agent }
func (e *Episode) Source() plume.Cell    { return e.source }
func (e *Episode) Steps() int            { return e.steps }
func (e *Episode) Belief() *belief.State { return e.state }
func (e *Episode) StepBudget() int       { return e.cfg.StepBudget }

// DegenerateUpdates counts observations discarded because they left no
// plausible candidate.
func (e *Episode) DegenerateUpdates() int { return e.degenerateUpdates }

// Done reports whether the episode reached a terminal phase.
func (e *Episode) Done() bool {
	return e.phase == PhaseFound || e.phase == PhaseTimedOut
}
