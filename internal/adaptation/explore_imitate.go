package adaptation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// ErrMissingCollaborator is returned by NewExploreImitate when a required
// Config field is nil.
var ErrMissingCollaborator = errors.New("missing collaborator")

// DecisionEvent describes one committed decision.
type DecisionEvent[A any, T any] struct {
	Name    string
	Agent   A
	Status  Status
	Value   T
	Fitness float64
}

// Config wires an ExploreImitate controller.
type Config[A comparable, T any] struct {
	// Name identifies the adapted attribute in logs and events.
	Name string

	Algorithm Algorithm[A, T]
	Sensor    Sensor[A, T]
	Actuator  Actuator[A, T]
	Objective ObjectiveFunction[A]

	// Probability builds the probability policy of one agent.
	Probability func(agent A) Probability[A]

	// Equal compares two decision values. Required.
	Equal func(a, b T) bool

	// ExplorationCheck rejects illegal candidates. Defaults to accepting all.
	ExplorationCheck func(v T) bool

	// Validator reports whether the agent adapts this period. Defaults to true.
	Validator func(agent A) bool

	// Friends lists imitation candidates, normally the agent's out-neighbours
	// in the social network (see network.Directed.Extractor). The controller
	// has no network of its own: left nil, nobody is a friend and the agent
	// never imitates.
	Friends FriendsExtractor[A]

	// Eligible filters friends that may currently be imitated. Defaults to true.
	Eligible func(agent A) bool

	Phase        schedule.Phase
	IntervalDays int

	OnDecision func(DecisionEvent[A, T])
}

type record[A any, T any] struct {
	state       DecisionState
	status      Status
	probability Probability[A]
	handle      *schedule.Handle
}

// ExploreImitate is the explore/imitate/exploit controller. It is not safe
// for concurrent use; it is driven from inside Clock.Tick.
type ExploreImitate[A comparable, T any] struct {
	cfg    Config[A, T]
	agents map[A]*record[A, T]
}

// NewExploreImitate validates cfg and fills in defaults. A zero Phase means
// PolicyUpdate.
func NewExploreImitate[A comparable, T any](cfg Config[A, T]) (*ExploreImitate[A, T], error) {
	missing := func(field string) error {
		return fmt.Errorf("explore imitate %q: %s: %w", cfg.Name, field, ErrMissingCollaborator)
	}
	switch {
	case cfg.Algorithm == nil:
		return nil, missing("algorithm")
	case cfg.Sensor == nil:
		return nil, missing("sensor")
	case cfg.Actuator == nil:
		return nil, missing("actuator")
	case cfg.Objective == nil:
		return nil, missing("objective")
	case cfg.Probability == nil:
		return nil, missing("probability")
	case cfg.Equal == nil:
		return nil, missing("equal")
	}
	if cfg.IntervalDays < 0 {
		return nil, fmt.Errorf("explore imitate %q: interval %d days: %w", cfg.Name, cfg.IntervalDays, schedule.ErrInvalidPeriod)
	}
	if cfg.IntervalDays == 0 {
		cfg.IntervalDays = 1
	}
	if cfg.Phase == schedule.Dawn {
		cfg.Phase = schedule.PolicyUpdate
	}
	if !cfg.Phase.Valid() {
		return nil, fmt.Errorf("explore imitate %q: invalid %s", cfg.Name, cfg.Phase)
	}
	if cfg.ExplorationCheck == nil {
		cfg.ExplorationCheck = func(T) bool { return true }
	}
	if cfg.Validator == nil {
		cfg.Validator = func(A) bool { return true }
	}
	if cfg.Eligible == nil {
		cfg.Eligible = func(A) bool { return true }
	}
	return &ExploreImitate[A, T]{cfg: cfg, agents: make(map[A]*record[A, T])}, nil
}

// Name returns the configured attribute name.
func (e *ExploreImitate[A, T]) Name() string { return e.cfg.Name }

func (e *ExploreImitate[A, T]) record(agent A) *record[A, T] {
	r, ok := e.agents[agent]
	if !ok {
		r = &record[A, T]{
			state:       Idle{},
			status:      Exploiting,
			probability: e.cfg.Probability(agent),
		}
		e.agents[agent] = r
	}
	return r
}

// Start initialises the agent's algorithm and probability state and
// schedules its adaptation every IntervalDays at the configured phase.
func (e *ExploreImitate[A, T]) Start(clock *schedule.Clock, rng *rand.Rand, agent A) error {
	r := e.record(agent)
	if err := e.cfg.Algorithm.Start(clock, agent, e.cfg.Sensor.Scan(agent)); err != nil {
		return fmt.Errorf("start %q algorithm: %w", e.cfg.Name, err)
	}
	if err := r.probability.Start(clock, agent); err != nil {
		return fmt.Errorf("start %q probability: %w", e.cfg.Name, err)
	}
	r.handle.Cancel()
	h, err := clock.ScheduleEveryXDays(schedule.ActionFunc(func(context.Context, *schedule.Clock) {
		e.Adapt(rng, agent)
	}), e.cfg.Phase, e.cfg.IntervalDays)
	if err != nil {
		return fmt.Errorf("schedule %q adaptation: %w", e.cfg.Name, err)
	}
	r.handle = h
	return nil
}

// TurnOff stops adapting the agent and forgets its state.
func (e *ExploreImitate[A, T]) TurnOff(agent A) {
	r, ok := e.agents[agent]
	if !ok {
		return
	}
	r.handle.Cancel()
	r.probability.TurnOff(agent)
	delete(e.agents, agent)
}

// Adapt runs one decision for the agent and commits it through the actuator.
// Agents rejected by the validator are skipped and keep their state.
func (e *ExploreImitate[A, T]) Adapt(rng *rand.Rand, agent A) {
	if !e.cfg.Validator(agent) {
		return
	}
	value, fitness := e.decide(rng, agent)
	e.cfg.Actuator.Apply(agent, value)
	if e.cfg.OnDecision != nil {
		r := e.agents[agent]
		e.cfg.OnDecision(DecisionEvent[A, T]{
			Name:    e.cfg.Name,
			Agent:   agent,
			Status:  r.status,
			Value:   value,
			Fitness: fitness,
		})
	}
}

// Decide judges the agent's previous move and picks the next value. It does
// not apply the value; Adapt does. When no legal exploration is found the
// agent's current sensor value is returned untouched.
func (e *ExploreImitate[A, T]) Decide(rng *rand.Rand, agent A) T {
	value, _ := e.decide(rng, agent)
	return value
}

// decide also returns the fitness baseline the decision was made against,
// which after a rollback is the pre-exploration fitness.
func (e *ExploreImitate[A, T]) decide(rng *rand.Rand, agent A) (T, float64) {
	r := e.record(agent)
	fitness := e.cfg.Objective.ComputeCurrentFitness(agent)
	scanned := e.cfg.Sensor.Scan(agent)
	current := scanned

	switch st := r.state.(type) {
	case ExploringState[T]:
		decision, ok := e.cfg.Algorithm.JudgeRandomization(rng, agent,
			st.PreviousFitness, fitness, st.PreviousValue, current)
		r.probability.JudgeExploration(st.PreviousFitness, fitness)
		r.state = Idle{}
		if ok {
			if e.cfg.Equal(decision, st.PreviousValue) {
				fitness = st.PreviousFitness
			}
			current = decision
		}
	case ImitatingState[A, T]:
		// Imitation outcomes are not reported to the probability policy.
		decision, ok := e.cfg.Algorithm.JudgeImitation(rng, agent, st.Friend,
			st.PreviousFitness, fitness, st.PreviousValue, current)
		r.state = Idle{}
		if ok {
			if e.cfg.Equal(decision, st.PreviousValue) {
				fitness = st.PreviousFitness
			}
			current = decision
		}
	}

	if chance(rng, r.probability.ExplorationProbability()) {
		for range constants.MaxExplorationAttempts {
			candidate := e.cfg.Algorithm.Randomize(rng, agent, fitness, current)
			if e.cfg.ExplorationCheck(candidate) {
				r.state = ExploringState[T]{PreviousValue: current, PreviousFitness: fitness}
				r.status = Exploring
				return candidate, fitness
			}
		}
		r.status = Exploiting
		return scanned, fitness
	}

	friends := e.eligibleFriends(rng, agent)
	if len(friends) > 0 && chance(rng, r.probability.ImitationProbability()) {
		candidate, friend, ok := e.cfg.Algorithm.Imitate(rng, agent, fitness, current,
			friends, e.cfg.Objective, e.cfg.Sensor)
		if ok && !e.cfg.Equal(candidate, current) && e.cfg.ExplorationCheck(candidate) {
			r.state = ImitatingState[A, T]{Friend: friend, PreviousFitness: fitness, PreviousValue: candidate}
			r.status = Imitating
			return candidate, fitness
		}
	}

	r.status = Exploiting
	return current, fitness
}

func (e *ExploreImitate[A, T]) eligibleFriends(rng *rand.Rand, agent A) []A {
	if e.cfg.Friends == nil {
		return nil
	}
	all := e.cfg.Friends(agent, rng)
	out := make([]A, 0, len(all))
	for _, f := range all {
		if e.cfg.Eligible(f) {
			out = append(out, f)
		}
	}
	return out
}

// Status returns the classification of the agent's last decision. ok is
// false for agents the controller has never seen.
func (e *ExploreImitate[A, T]) Status(agent A) (Status, bool) {
	r, ok := e.agents[agent]
	if !ok {
		return Exploiting, false
	}
	return r.status, true
}

// State returns what the controller remembers about the agent.
func (e *ExploreImitate[A, T]) State(agent A) DecisionState {
	r, ok := e.agents[agent]
	if !ok {
		return Idle{}
	}
	return r.state
}

// Probability returns the agent's probability policy, or nil if the agent
// is unknown.
func (e *ExploreImitate[A, T]) Probability(agent A) Probability[A] {
	r, ok := e.agents[agent]
	if !ok {
		return nil
	}
	return r.probability
}

// Agents returns the number of agents with live state.
func (e *ExploreImitate[A, T]) Agents() int { return len(e.agents) }
