package adaptation

// Status classifies the last decision taken for an agent.
type Status int

const (
	Exploiting Status = iota
	Exploring
	Imitating
)

func (s Status) String() string {
	switch s {
	case Exploring:
		return "exploring"
	case Imitating:
		return "imitating"
	default:
		return "exploiting"
	}
}

// DecisionState is what the controller remembers between two decisions of
// one agent. The concrete type is one of Idle, ExploringState or
// ImitatingState.
type DecisionState interface {
	decisionState()
}

// Idle means there is no pending judgment.
type Idle struct{}

// ExploringState remembers the value and fitness the agent moved away from.
type ExploringState[T any] struct {
	PreviousValue   T
	PreviousFitness float64
}

// ImitatingState remembers the imitated peer and the fitness at the time of
// imitation. PreviousValue holds the adopted value.
type ImitatingState[A any, T any] struct {
	Friend          A
	PreviousFitness float64
	PreviousValue   T
}

func (Idle) decisionState() {}
func (ExploringState[T]) decisionState() {}
func (ImitatingState[A, T]) decisionState() {}
