package search

import (
	"errors"
	"math/rand"
	"testing"

	"plumetrack/internal/plume"
)

func testConfig(t *testing.T, w, h int) Config {
	t.Helper()
	g, err := plume.NewGrid(w, h)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return Config{
		Grid:       g,
		Model:      plume.RadiusModel{Radius: 1.5, Metric: plume.NormEuclidean},
		StepBudget: 4 * (w + h),
		Start:      plume.Cell{X: w / 2, Y: h / 2},
		InitialHit: -1,
		Reward:     RewardSpec{StepCost: 1, FoundBonus: 10},
	}
}

func TestActionDeltas(t *testing.T) {
	cases := []struct {
		a      Action
		dx, dy int
	}{
		{MoveXNeg, -1, 0},
		{MoveXPos, 1, 0},
		{MoveYNeg, 0, -1},
		{MoveYPos, 0, 1},
	}
	for _, c := range cases {
		dx, dy := c.a.Delta()
		if dx != c.dx || dy != c.dy {
			t.Fatalf("%s: delta = (%d,%d), want (%d,%d)", c.a, dx, dy, c.dx, c.dy)
		}
	}
}

func TestStepBeforeResetFails(t *testing.T) {
	e, err := NewEpisode(testConfig(t, 7, 7), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if _, err := e.Step(MoveXPos); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestStepAfterTerminalFails(t *testing.T) {
	cfg := testConfig(t, 5, 5)
	cfg.StepBudget = 1
	e, err := NewEpisode(cfg, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := e.Step(MoveXPos); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !e.Done() {
		t.Fatalf("episode not terminal after exhausting budget, phase %q", e.Phase())
	}
	if _, err := e.Step(MoveXPos); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestInvalidActionRejected(t *testing.T) {
	e, err := NewEpisode(testConfig(t, 5, 5), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := e.Step(Action(9)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	// A bad action must not poison the episode.
	if _, err := e.Step(MoveXPos); err != nil {
		t.Fatalf("Step after rejected action: %v", err)
	}
}

func TestBoundaryMoveBlocksAgent(t *testing.T) {
	cfg := testConfig(t, 5, 5)
	cfg.Start = plume.Cell{X: 0, Y: 0}
	cfg.MinSourceDistance = 3
	e, err := NewEpisode(cfg, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	tr, err := e.Step(MoveXNeg)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !tr.Blocked {
		t.Fatal("move off the grid not reported as blocked")
	}
	if tr.AgentAfter != cfg.Start {
		t.Fatalf("agent moved to (%d,%d), want to stay at start", tr.AgentAfter.X, tr.AgentAfter.Y)
	}
	if e.Steps() != 1 {
		t.Fatalf("blocked move consumed %d steps, want 1", e.Steps())
	}
}

func TestMinSourceDistanceHonored(t *testing.T) {
	cfg := testConfig(t, 9, 9)
	cfg.MinSourceDistance = 5
	rng := rand.New(rand.NewSource(5))
	e, err := NewEpisode(cfg, rng)
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := e.Reset(); err != nil {
			t.Fatalf("Reset %d: %v", i, err)
		}
		if d := plume.Manhattan(e.Source(), cfg.Start); d < 5 {
			t.Fatalf("reset %d: source at distance %v, want >= 5", i, d)
		}
	}
}

// Walking straight at a known source must terminate in FOUND with the
// belief collapsed on the true cell.
func TestFindSourceCollapsesBeliefAndPaysBonus(t *testing.T) {
	cfg := testConfig(t, 9, 5)
	cfg.MinSourceDistance = 1
	e, err := NewEpisode(cfg, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	var last Transition
	for !e.Done() {
		src, a := e.Source(), e.Agent()
		var act Action
		switch {
		case a.X < src.X:
			act = MoveXPos
		case a.X > src.X:
			act = MoveXNeg
		case a.Y < src.Y:
			act = MoveYPos
		default:
			act = MoveYNeg
		}
		last, err = e.Step(act)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if e.Phase() != PhaseFound {
		t.Fatalf("phase = %q, want %q", e.Phase(), PhaseFound)
	}
	if last.Reward != -1+10 {
		t.Fatalf("terminal reward = %v, want 9", last.Reward)
	}
	if got := e.Belief().Mass(e.Source()); got != 1.0 {
		t.Fatalf("belief mass at source = %v, want 1", got)
	}
	if e.Belief().Entropy() != 0 {
		t.Fatalf("terminal entropy = %v, want 0", e.Belief().Entropy())
	}
}

func TestTimeOutExactlyAtBudget(t *testing.T) {
	cfg := testConfig(t, 11, 11)
	cfg.Start = plume.Cell{X: 0, Y: 0}
	cfg.StepBudget = 6
	cfg.MinSourceDistance = 15
	e, err := NewEpisode(cfg, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	// Oscillate in place, away from the distant source.
	actions := []Action{MoveXPos, MoveXNeg}
	for i := 0; i < cfg.StepBudget; i++ {
		tr, err := e.Step(actions[i%2])
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if i < cfg.StepBudget-1 && tr.Phase != PhaseRunning {
			t.Fatalf("step %d: phase %q before budget", i, tr.Phase)
		}
		if i == cfg.StepBudget-1 && tr.Phase != PhaseTimedOut {
			t.Fatalf("final step: phase %q, want %q", tr.Phase, PhaseTimedOut)
		}
	}
}

// resetWithSource redraws until the hidden source lands on the wanted
// cell; deterministic for a fixed rng seed.
func resetWithSource(t *testing.T, e *Episode, want plume.Cell) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if err := e.Reset(); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if e.Source() == want {
			return
		}
	}
	t.Fatalf("source never landed on (%d,%d)", want.X, want.Y)
}

// Reference layout: 10x10 grid, deterministic radius-1 detector, source
// at (5,5), agent starting at (0,0).
func referenceLayout(t *testing.T, budget int) *Episode {
	t.Helper()
	g, err := plume.NewGrid(10, 10)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	e, err := NewEpisode(Config{
		Grid:       g,
		Model:      plume.RadiusModel{Radius: 1, Metric: plume.NormEuclidean},
		StepBudget: budget,
		Start:      plume.Cell{X: 0, Y: 0},
		InitialHit: -1,
		Reward:     RewardSpec{StepCost: 1, FoundBonus: 10},
	}, rand.New(rand.NewSource(10)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	resetWithSource(t, e, plume.Cell{X: 5, Y: 5})
	return e
}

func TestReferenceLayoutFound(t *testing.T) {
	e := referenceLayout(t, 20)
	var last Transition
	var err error
	for i := 0; i < 5; i++ {
		if last, err = e.Step(MoveXPos); err != nil {
			t.Fatalf("Step x+ %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		if last, err = e.Step(MoveYPos); err != nil {
			t.Fatalf("Step y+ %d: %v", i, err)
		}
	}
	if e.Phase() != PhaseFound {
		t.Fatalf("phase = %q, want %q", e.Phase(), PhaseFound)
	}
	if e.Steps() != 10 {
		t.Fatalf("steps = %d, want 10", e.Steps())
	}
	if last.Reward != -1+10 {
		t.Fatalf("terminal reward = %v, want 9", last.Reward)
	}
	if got := e.Belief().Mass(plume.Cell{X: 5, Y: 5}); got != 1.0 {
		t.Fatalf("belief mass at source = %v, want 1", got)
	}
	if e.Belief().Entropy() != 0 {
		t.Fatalf("terminal entropy = %v, want 0", e.Belief().Entropy())
	}
}

func TestReferenceLayoutTimedOutAtBudgetFive(t *testing.T) {
	e := referenceLayout(t, 5)
	for i := 0; i < 5; i++ {
		tr, err := e.Step(MoveXPos)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if i < 4 && tr.Phase != PhaseRunning {
			t.Fatalf("step %d: phase %q before budget", i, tr.Phase)
		}
		if i == 4 && tr.Phase != PhaseTimedOut {
			t.Fatalf("final step: phase %q, want %q", tr.Phase, PhaseTimedOut)
		}
	}
	if e.Steps() != 5 {
		t.Fatalf("steps = %d, want 5", e.Steps())
	}
}

func TestBeliefStaysNormalizedDuringEpisode(t *testing.T) {
	cfg := testConfig(t, 9, 9)
	rng := rand.New(rand.NewSource(8))
	e, err := NewEpisode(cfg, rng)
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for !e.Done() {
		if _, err := e.Step(Action(rng.Intn(NumActions))); err != nil {
			t.Fatalf("Step: %v", err)
		}
		sum := e.Belief().Sum()
		if sum < 1-1e-9 || sum > 1+1e-9 {
			t.Fatalf("belief sum = %v after step %d", sum, e.Steps())
		}
	}
}

func TestVisitedCellLosesMass(t *testing.T) {
	cfg := testConfig(t, 9, 9)
	cfg.MinSourceDistance = 6
	e, err := NewEpisode(cfg, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	tr, err := e.Step(MoveXPos)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if tr.Degenerate {
		t.Skip("degenerate first observation")
	}
	if got := e.Belief().Mass(tr.AgentAfter); got != 0 {
		t.Fatalf("visited cell keeps mass %v, want 0", got)
	}
}
