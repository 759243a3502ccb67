package adaptation

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// pond is a tiny world of agents holding an int decision and a fitness.
type pond struct {
	values  map[int]int
	fitness map[int]float64
	friends map[int][]int
	banned  map[int]bool
}

func newPond() *pond {
	return &pond{
		values:  map[int]int{},
		fitness: map[int]float64{},
		friends: map[int][]int{},
		banned:  map[int]bool{},
	}
}

func (p *pond) Scan(a int) int { return p.values[a] }
func (p *pond) Apply(a int, v int) { p.values[a] = v }
func (p *pond) ComputeCurrentFitness(a int) float64 { return p.fitness[a] }
func (p *pond) ComputePreviousFitness(a int) float64 { return p.fitness[a] }
func (p *pond) Friends(a int, _ *rand.Rand) []int { return p.friends[a] }
func (p *pond) Eligible(a int) bool { return !p.banned[a] }

// spyProbability is a fixed probability that counts feedback calls.
type spyProbability struct {
	exploration, imitation float64
	judged                 int
	started, turnedOff     int
}

func (s *spyProbability) ExplorationProbability() float64 { return s.exploration }
func (s *spyProbability) ImitationProbability() float64 { return s.imitation }
func (s *spyProbability) JudgeExploration(float64, float64) { s.judged++ }
func (s *spyProbability) Start(*schedule.Clock, int) error {
	s.started++
	return nil
}
func (s *spyProbability) TurnOff(int) { s.turnedOff++ }

func intEqual(a, b int) bool { return a == b }

func newController(t *testing.T, p *pond, prob Probability[int], mutate func(*Config[int, int])) *ExploreImitate[int, int] {
	t.Helper()
	cfg := Config[int, int]{
		Name:        "destination",
		Algorithm:   &HillClimber[int, int]{Perturb: func(_ *rand.Rand, v int) int { return v + 1 }},
		Sensor:      p,
		Actuator:    p,
		Objective:   p,
		Probability: func(int) Probability[int] { return prob },
		Equal:       intEqual,
		Friends:     p.Friends,
		Eligible:    p.Eligible,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewExploreImitate(cfg)
	if err != nil {
		t.Fatalf("NewExploreImitate: %v", err)
	}
	return ctrl
}

func mustFixed(t *testing.T, exploration, imitation float64) *FixedProbability[int] {
	t.Helper()
	p, err := NewFixedProbability[int](exploration, imitation)
	if err != nil {
		t.Fatalf("NewFixedProbability: %v", err)
	}
	return p
}

func assertStatus(t *testing.T, ctrl *ExploreImitate[int, int], agent int, want Status) {
	t.Helper()
	got, ok := ctrl.Status(agent)
	if !ok {
		t.Fatalf("Status(%d): agent unknown", agent)
	}
	if got != want {
		t.Errorf("Status(%d) = %s, want %s", agent, got, want)
	}
}

func TestNewExploreImitate_MissingCollaborators(t *testing.T) {
	p := newPond()
	base := func() Config[int, int] {
		return Config[int, int]{
			Algorithm:   NewIntervalClimber[int](1),
			Sensor:      p,
			Actuator:    p,
			Objective:   p,
			Probability: func(int) Probability[int] { return &spyProbability{} },
			Equal:       intEqual,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config[int, int])
	}{
		{"algorithm", func(c *Config[int, int]) { c.Algorithm = nil }},
		{"sensor", func(c *Config[int, int]) { c.Sensor = nil }},
		{"actuator", func(c *Config[int, int]) { c.Actuator = nil }},
		{"objective", func(c *Config[int, int]) { c.Objective = nil }},
		{"probability", func(c *Config[int, int]) { c.Probability = nil }},
		{"equal", func(c *Config[int, int]) { c.Equal = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if _, err := NewExploreImitate(cfg); !errors.Is(err, ErrMissingCollaborator) {
				t.Errorf("err = %v, want ErrMissingCollaborator", err)
			}
		})
	}

	cfg := base()
	cfg.IntervalDays = -2
	if _, err := NewExploreImitate(cfg); !errors.Is(err, schedule.ErrInvalidPeriod) {
		t.Errorf("negative interval err = %v, want ErrInvalidPeriod", err)
	}
}

func TestAdapt_PureExplorationFor100Steps(t *testing.T) {
	p := newPond()
	p.friends[0] = []int{1}
	p.values[1] = 50
	p.fitness[1] = 1000
	ctrl := newController(t, p, mustFixed(t, 1, 0), nil)
	rng := rand.New(rand.NewSource(1))

	for i := range 100 {
		p.fitness[0] = float64(i)
		ctrl.Adapt(rng, 0)
		if s, _ := ctrl.Status(0); s != Exploring {
			t.Fatalf("step %d: status = %s, want exploring", i, s)
		}
	}
}

func TestDecide_ExplorationGivesUpAfterMaxAttempts(t *testing.T) {
	p := newPond()
	p.values[0] = 4
	attempts := 0
	ctrl := newController(t, p, mustFixed(t, 1, 0), func(c *Config[int, int]) {
		c.Algorithm = &HillClimber[int, int]{Perturb: func(_ *rand.Rand, v int) int {
			attempts++
			return v + 1
		}}
		c.ExplorationCheck = func(int) bool { return false }
	})

	got := ctrl.Decide(rand.New(rand.NewSource(1)), 0)
	if got != 4 {
		t.Errorf("Decide = %d, want unchanged 4", got)
	}
	if attempts != constants.MaxExplorationAttempts {
		t.Errorf("randomize called %d times, want %d", attempts, constants.MaxExplorationAttempts)
	}
	assertStatus(t, ctrl, 0, Exploiting)
	if _, ok := ctrl.State(0).(Idle); !ok {
		t.Errorf("State = %#v, want Idle", ctrl.State(0))
	}
}

func TestDecide_FailedExplorationAfterRevertKeepsSensorValue(t *testing.T) {
	p := newPond()
	p.values[0] = 5
	p.fitness[0] = 10
	legal := true
	ctrl := newController(t, p, mustFixed(t, 1, 0), func(c *Config[int, int]) {
		c.ExplorationCheck = func(int) bool { return legal }
	})
	rng := rand.New(rand.NewSource(7))

	ctrl.Adapt(rng, 0)
	if p.values[0] != 6 {
		t.Fatalf("exploration committed %d, want 6", p.values[0])
	}

	// Worse fitness makes the climber revert to 5, but no candidate is legal,
	// so nothing moves: the agent stays where its sensor says it is.
	p.fitness[0] = 3
	legal = false
	if got := ctrl.Decide(rng, 0); got != 6 {
		t.Errorf("Decide = %d, want pre-call sensor value 6", got)
	}
	assertStatus(t, ctrl, 0, Exploiting)
	if _, ok := ctrl.State(0).(Idle); !ok {
		t.Errorf("State = %#v, want Idle", ctrl.State(0))
	}
}

func TestAdapt_EventCarriesDecisionBaseline(t *testing.T) {
	p := newPond()
	p.values[0] = 5
	p.fitness[0] = 10
	var events []DecisionEvent[int, int]
	ctrl := newController(t, p, mustFixed(t, 1, 0), func(c *Config[int, int]) {
		c.OnDecision = func(ev DecisionEvent[int, int]) { events = append(events, ev) }
	})
	rng := rand.New(rand.NewSource(7))

	ctrl.Adapt(rng, 0)
	p.fitness[0] = 3
	ctrl.Adapt(rng, 0)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Fitness != 10 {
		t.Errorf("first event fitness = %v, want 10", events[0].Fitness)
	}
	// The second decision reverted to 5 and explored again against the
	// rolled-back baseline.
	if events[1].Fitness != 10 || events[1].Value != 6 || events[1].Status != Exploring {
		t.Errorf("second event = %+v, want value 6 exploring at fitness 10", events[1])
	}
}

func TestAdapt_NeverCommitsInvalidValue(t *testing.T) {
	p := newPond()
	const agents = 10
	for a := range agents {
		p.values[a] = 2 * a
		p.friends[a] = []int{(a + 1) % agents, (a + 3) % agents}
	}
	even := func(v int) bool { return v%2 == 0 }
	ctrl := newController(t, p, mustFixed(t, 0.5, 0.5), func(c *Config[int, int]) {
		c.Algorithm = &HillClimber[int, int]{Perturb: func(rng *rand.Rand, v int) int {
			return v + rng.Intn(5) - 2
		}}
		c.ExplorationCheck = even
	})
	rng := rand.New(rand.NewSource(42))

	for step := range 200 {
		for a := range agents {
			p.fitness[a] = rng.Float64() * 10
			ctrl.Adapt(rng, a)
			if !even(p.values[a]) {
				t.Fatalf("step %d agent %d committed invalid value %d", step, a, p.values[a])
			}
		}
	}
}

func TestDecide_RevertRollsBackFitnessBaseline(t *testing.T) {
	p := newPond()
	p.values[0] = 0
	p.fitness[0] = 10
	ctrl := newController(t, p, mustFixed(t, 1, 0), nil)
	rng := rand.New(rand.NewSource(3))

	ctrl.Adapt(rng, 0)
	if p.values[0] != 1 {
		t.Fatalf("first exploration committed %d, want 1", p.values[0])
	}
	want := ExploringState[int]{PreviousValue: 0, PreviousFitness: 10}
	if got := ctrl.State(0); got != want {
		t.Fatalf("State = %#v, want %#v", got, want)
	}

	// The exploration made things worse: the climber reverts to 0 and the
	// next exploration must be judged against the old fitness, not 3.
	p.fitness[0] = 3
	ctrl.Adapt(rng, 0)
	if p.values[0] != 1 {
		t.Errorf("second exploration committed %d, want 1 (from reverted 0)", p.values[0])
	}
	if got := ctrl.State(0); got != want {
		t.Errorf("State = %#v, want %#v", got, want)
	}
}

func TestDecide_KeepImprovement(t *testing.T) {
	p := newPond()
	p.fitness[0] = 10
	ctrl := newController(t, p, mustFixed(t, 1, 0), nil)
	rng := rand.New(rand.NewSource(3))

	ctrl.Adapt(rng, 0)
	p.fitness[0] = 12
	ctrl.Adapt(rng, 0)

	want := ExploringState[int]{PreviousValue: 1, PreviousFitness: 12}
	if got := ctrl.State(0); got != want {
		t.Errorf("State = %#v, want %#v", got, want)
	}
	if p.values[0] != 2 {
		t.Errorf("value = %d, want 2", p.values[0])
	}
}

func TestDecide_DeferredJudgmentKeepsSensorValue(t *testing.T) {
	p := newPond()
	p.fitness[0] = math.NaN()
	prob := &spyProbability{exploration: 1}
	ctrl := newController(t, p, prob, nil)
	rng := rand.New(rand.NewSource(3))

	ctrl.Adapt(rng, 0) // explores to 1 with NaN baseline
	prob.exploration = 0
	ctrl.Adapt(rng, 0) // both fitnesses NaN: judgment deferred

	if p.values[0] != 1 {
		t.Errorf("value = %d, want sensor value 1 kept", p.values[0])
	}
	assertStatus(t, ctrl, 0, Exploiting)
}

func TestDecide_ImitatesDominatingPeer(t *testing.T) {
	p := newPond()
	p.values[0], p.fitness[0] = 0, 1
	p.values[1], p.fitness[1] = 7, 5
	p.values[2], p.fitness[2] = 9, 3
	p.friends[0] = []int{2, 1}
	ctrl := newController(t, p, mustFixed(t, 0, 1), nil)

	got := ctrl.Decide(rand.New(rand.NewSource(1)), 0)
	if got != 7 {
		t.Errorf("Decide = %d, want 7 (best friend's value)", got)
	}
	assertStatus(t, ctrl, 0, Imitating)
	want := ImitatingState[int, int]{Friend: 1, PreviousFitness: 1, PreviousValue: 7}
	if st := ctrl.State(0); st != want {
		t.Errorf("State = %#v, want %#v", st, want)
	}
}

func TestDecide_NoFriendsSourceNeverImitates(t *testing.T) {
	p := newPond()
	p.values[0], p.fitness[0] = 0, 1
	p.values[1], p.fitness[1] = 7, 5
	p.friends[0] = []int{1}
	ctrl := newController(t, p, mustFixed(t, 0, 1), func(c *Config[int, int]) {
		c.Friends = nil
	})

	if got := ctrl.Decide(rand.New(rand.NewSource(1)), 0); got != 0 {
		t.Errorf("Decide = %d, want own value 0", got)
	}
	assertStatus(t, ctrl, 0, Exploiting)
}

func TestDecide_ImitationRejected(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *pond)
		check func(int) bool
	}{
		{
			name: "no friends",
			setup: func(p *pond) {
				p.friends[0] = nil
			},
		},
		{
			name: "nobody dominates",
			setup: func(p *pond) {
				p.values[1], p.fitness[1] = 7, 1
			},
		},
		{
			name: "same value as current",
			setup: func(p *pond) {
				p.values[1], p.fitness[1] = 0, 5
			},
		},
		{
			name: "friend not eligible",
			setup: func(p *pond) {
				p.values[1], p.fitness[1] = 7, 5
				p.banned[1] = true
			},
		},
		{
			name: "candidate fails exploration check",
			setup: func(p *pond) {
				p.values[1], p.fitness[1] = 7, 5
			},
			check: func(v int) bool { return v < 5 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPond()
			p.values[0], p.fitness[0] = 0, 1
			p.friends[0] = []int{1}
			tt.setup(p)
			ctrl := newController(t, p, mustFixed(t, 0, 1), func(c *Config[int, int]) {
				c.ExplorationCheck = tt.check
			})

			got := ctrl.Decide(rand.New(rand.NewSource(1)), 0)
			if got != 0 {
				t.Errorf("Decide = %d, want unchanged 0", got)
			}
			assertStatus(t, ctrl, 0, Exploiting)
			if _, ok := ctrl.State(0).(Idle); !ok {
				t.Errorf("State = %#v, want Idle", ctrl.State(0))
			}
		})
	}
}

// Only exploration outcomes feed the probability policy. Imitation outcomes
// are judged but never reported.
func TestDecide_ImitationOutcomeNotReportedToProbability(t *testing.T) {
	p := newPond()
	p.values[0], p.fitness[0] = 0, 1
	p.values[1], p.fitness[1] = 7, 5
	p.friends[0] = []int{1}
	prob := &spyProbability{imitation: 1}
	ctrl := newController(t, p, prob, nil)
	rng := rand.New(rand.NewSource(1))

	ctrl.Adapt(rng, 0)
	assertStatus(t, ctrl, 0, Imitating)
	p.fitness[0] = 6
	prob.imitation = 0
	ctrl.Adapt(rng, 0)
	if prob.judged != 0 {
		t.Errorf("JudgeExploration called %d times after imitation, want 0", prob.judged)
	}

	prob.exploration = 1
	ctrl.Adapt(rng, 0)
	ctrl.Adapt(rng, 0)
	if prob.judged != 1 {
		t.Errorf("JudgeExploration called %d times after exploration, want 1", prob.judged)
	}
}

func TestAdapt_ValidatorSkipsAgent(t *testing.T) {
	p := newPond()
	p.values[0] = 3
	events := 0
	ctrl := newController(t, p, mustFixed(t, 1, 0), func(c *Config[int, int]) {
		c.Validator = func(int) bool { return false }
		c.OnDecision = func(DecisionEvent[int, int]) { events++ }
	})

	ctrl.Adapt(rand.New(rand.NewSource(1)), 0)
	if p.values[0] != 3 {
		t.Errorf("value = %d, want untouched 3", p.values[0])
	}
	if events != 0 {
		t.Errorf("OnDecision fired %d times, want 0", events)
	}
	if _, ok := ctrl.Status(0); ok {
		t.Error("Status known for skipped agent")
	}
}

func TestStart_SchedulesAndTurnOffCancels(t *testing.T) {
	p := newPond()
	prob := &spyProbability{exploration: 1}
	var events []DecisionEvent[int, int]
	ctrl := newController(t, p, prob, func(c *Config[int, int]) {
		c.IntervalDays = 5
		c.OnDecision = func(ev DecisionEvent[int, int]) { events = append(events, ev) }
	})
	clock := schedule.NewClock()
	rng := rand.New(rand.NewSource(1))

	if err := ctrl.Start(clock, rng, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if prob.started != 1 {
		t.Errorf("probability started %d times, want 1", prob.started)
	}
	for range 10 {
		clock.Tick(t.Context())
	}
	if len(events) != 2 {
		t.Fatalf("decisions = %d, want 2", len(events))
	}
	if events[0].Name != "destination" || events[0].Status != Exploring || events[0].Value != 1 {
		t.Errorf("first event = %+v", events[0])
	}

	ctrl.TurnOff(0)
	for range 10 {
		clock.Tick(t.Context())
	}
	if len(events) != 2 {
		t.Errorf("decisions after TurnOff = %d, want 2", len(events))
	}
	if prob.turnedOff != 1 {
		t.Errorf("probability turned off %d times, want 1", prob.turnedOff)
	}
	if ctrl.Agents() != 0 {
		t.Errorf("Agents() = %d, want 0", ctrl.Agents())
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestStart_AlgorithmError(t *testing.T) {
	vectors := map[int][]float64{0: {1, 2}}
	prob := &spyProbability{}
	ctrl, err := NewExploreImitate(Config[int, []float64]{
		Algorithm: NewVectorClimber[int](3, 0.1),
		Sensor:    SensorFunc[int, []float64](func(a int) []float64 { return vectors[a] }),
		Actuator:  ActuatorFunc[int, []float64](func(a int, v []float64) { vectors[a] = v }),
		Objective: newPond(),
		Probability: func(int) Probability[int] {
			return prob
		},
		Equal: func(a, b []float64) bool { return len(a) == len(b) },
	})
	if err != nil {
		t.Fatalf("NewExploreImitate: %v", err)
	}
	err = ctrl.Start(schedule.NewClock(), rand.New(rand.NewSource(1)), 0)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Start err = %v, want ErrDimensionMismatch", err)
	}
}

func TestDecide_DeterministicForSeed(t *testing.T) {
	run := func() []int {
		p := newPond()
		for a := range 5 {
			p.friends[a] = []int{(a + 1) % 5}
		}
		ctrl := newController(t, p, mustFixed(t, 0.3, 0.5), func(c *Config[int, int]) {
			c.Algorithm = NewIntervalClimber[int](3)
		})
		rng := rand.New(rand.NewSource(7))
		var out []int
		for range 50 {
			for a := range 5 {
				p.fitness[a] = float64(p.values[a] * (a + 1))
				ctrl.Adapt(rng, a)
				out = append(out, p.values[a])
			}
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverge at %d: %d vs %d", i, a[i], b[i])
		}
	}
}
