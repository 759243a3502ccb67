package adaptation

import (
	"context"
	"fmt"
	"math"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// Probability supplies the explore and imitate probabilities for one agent.
// Adaptive implementations update themselves from JudgeExploration.
type Probability[A any] interface {
	ExplorationProbability() float64
	ImitationProbability() float64
	JudgeExploration(prevFit, curFit float64)
	Start(clock *schedule.Clock, agent A) error
	TurnOff(agent A)
}

func checkUnit(name string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%s probability %v not in [0,1]", name, p)
	}
	return nil
}

// FixedProbability never changes.
type FixedProbability[A any] struct {
	exploration float64
	imitation   float64
}

// NewFixedProbability validates both probabilities.
func NewFixedProbability[A any](exploration, imitation float64) (*FixedProbability[A], error) {
	if err := checkUnit("exploration", exploration); err != nil {
		return nil, err
	}
	if err := checkUnit("imitation", imitation); err != nil {
		return nil, err
	}
	return &FixedProbability[A]{exploration: exploration, imitation: imitation}, nil
}

func (p *FixedProbability[A]) ExplorationProbability() float64 { return p.exploration }
func (p *FixedProbability[A]) ImitationProbability() float64 { return p.imitation }
func (p *FixedProbability[A]) JudgeExploration(float64, float64) {}
func (p *FixedProbability[A]) Start(*schedule.Clock, A) error { return nil }
func (p *FixedProbability[A]) TurnOff(A) {}

// ExplorationPenaltyProbability raises exploration after an exploration that
// paid off and lowers it after one that did not.
type ExplorationPenaltyProbability[A any] struct {
	exploration float64
	imitation   float64
	increment   float64
	minimum     float64
	trend       float64
	judged      int
}

// NewExplorationPenaltyProbability builds the policy. minimum is the floor
// the exploration probability never drops below.
func NewExplorationPenaltyProbability[A any](exploration, imitation, increment, minimum float64) (*ExplorationPenaltyProbability[A], error) {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"exploration", exploration},
		{"imitation", imitation},
		{"increment", increment},
		{"minimum exploration", minimum},
	} {
		if err := checkUnit(c.name, c.v); err != nil {
			return nil, err
		}
	}
	return &ExplorationPenaltyProbability[A]{
		exploration: math.Max(exploration, minimum),
		imitation:   imitation,
		increment:   increment,
		minimum:     minimum,
	}, nil
}

func (p *ExplorationPenaltyProbability[A]) ExplorationProbability() float64 { return p.exploration }
func (p *ExplorationPenaltyProbability[A]) ImitationProbability() float64 { return p.imitation }

// JudgeExploration moves the exploration probability by one increment.
// Non-finite fitness values are ignored.
func (p *ExplorationPenaltyProbability[A]) JudgeExploration(prevFit, curFit float64) {
	delta := curFit - prevFit
	if !finite(delta) {
		return
	}
	if delta > 0 {
		p.exploration += p.increment
	} else {
		p.exploration -= p.increment
	}
	p.exploration = math.Min(1, math.Max(p.minimum, p.exploration))

	if p.judged == 0 {
		p.trend = delta
	} else {
		p.trend += constants.TrendSmoothing * (delta - p.trend)
	}
	p.judged++
}

// Trend is the exponential moving average of judged fitness deltas.
func (p *ExplorationPenaltyProbability[A]) Trend() float64 { return p.trend }

func (p *ExplorationPenaltyProbability[A]) Start(*schedule.Clock, A) error { return nil }
func (p *ExplorationPenaltyProbability[A]) TurnOff(A) {}

// DailyDecreasingProbability decays the exploration probability every day at
// dawn, down to a floor.
type DailyDecreasingProbability[A any] struct {
	exploration float64
	imitation   float64
	decay       float64
	minimum     float64
	handle      *schedule.Handle
}

func NewDailyDecreasingProbability[A any](exploration, imitation, decay, minimum float64) (*DailyDecreasingProbability[A], error) {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"exploration", exploration},
		{"imitation", imitation},
		{"decay", decay},
		{"minimum exploration", minimum},
	} {
		if err := checkUnit(c.name, c.v); err != nil {
			return nil, err
		}
	}
	return &DailyDecreasingProbability[A]{
		exploration: exploration,
		imitation:   imitation,
		decay:       decay,
		minimum:     minimum,
	}, nil
}

func (p *DailyDecreasingProbability[A]) ExplorationProbability() float64 { return p.exploration }
func (p *DailyDecreasingProbability[A]) ImitationProbability() float64 { return p.imitation }
func (p *DailyDecreasingProbability[A]) JudgeExploration(float64, float64) {}

// Start schedules the daily decay. Calling Start twice replaces the first
// schedule.
func (p *DailyDecreasingProbability[A]) Start(clock *schedule.Clock, _ A) error {
	p.handle.Cancel()
	h, err := clock.ScheduleEveryDay(schedule.ActionFunc(func(context.Context, *schedule.Clock) {
		p.exploration = math.Max(p.minimum, p.exploration*p.decay)
	}), schedule.Dawn)
	if err != nil {
		return fmt.Errorf("daily decreasing probability: %w", err)
	}
	p.handle = h
	return nil
}

// TurnOff stops the decay.
func (p *DailyDecreasingProbability[A]) TurnOff(A) {
	p.handle.Cancel()
	p.handle = nil
}
