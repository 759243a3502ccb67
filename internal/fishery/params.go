package fishery

import (
	"errors"
	"fmt"

	"github.com/nvandessel/poseidon/internal/adaptation"
	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// Probability policy names accepted in configuration.
const (
	PolicyFixed              = "fixed"
	PolicyExplorationPenalty = "exploration_penalty"
	PolicyDailyDecreasing    = "daily_decreasing"
)

// Params configures a Scenario.
type Params struct {
	Fishers          int
	Patches          int
	ClosedPatches    []int
	FriendsPerFisher int

	Capacity            float64
	GrowthRate          float64
	Catchability        float64
	Price               float64
	TravelCost          float64
	TotalAllowableCatch float64 // yearly, 0 disables the quota

	Objective          string
	ObjectiveWindow    int
	KnifeEdgeThreshold float64

	Policy                 string
	ExplorationProbability float64
	ImitationProbability   float64
	PenaltyIncrement       float64
	MinimumExploration     float64
	DailyDecay             float64

	MaxDestinationStep     int
	AdaptationIntervalDays int
	AdaptationPhase        schedule.Phase
}

// DefaultParams returns the prototype scenario.
func DefaultParams() Params {
	return Params{
		Fishers:                constants.DefaultFishers,
		Patches:                constants.DefaultPatches,
		FriendsPerFisher:       constants.DefaultFriendsPerFisher,
		Capacity:               constants.DefaultPatchCapacity,
		GrowthRate:             constants.DefaultGrowthRate,
		Catchability:           constants.DefaultCatchability,
		Price:                  constants.DefaultPrice,
		TravelCost:             constants.DefaultTravelCost,
		Objective:              ObjectiveCashFlow,
		ObjectiveWindow:        constants.DefaultObjectiveWindowDays,
		Policy:                 PolicyFixed,
		ExplorationProbability: constants.DefaultExplorationProbability,
		ImitationProbability:   constants.DefaultImitationProbability,
		PenaltyIncrement:       constants.DefaultPenaltyIncrement,
		MinimumExploration:     constants.DefaultMinimumExploration,
		DailyDecay:             constants.DefaultDailyDecay,
		MaxDestinationStep:     constants.DefaultMaxDestinationStep,
		AdaptationIntervalDays: constants.DefaultAdaptationIntervalDays,
		AdaptationPhase:        schedule.PolicyUpdate,
	}
}

// Validate checks sizes and ranges. Probability ranges are checked when the
// policy is built.
func (p Params) Validate() error {
	var errs []error
	if p.Fishers <= 0 {
		errs = append(errs, fmt.Errorf("fishers must be positive, got %d", p.Fishers))
	}
	if p.Patches <= 0 {
		errs = append(errs, fmt.Errorf("patches must be positive, got %d", p.Patches))
	}
	open := p.Patches
	seen := map[int]bool{}
	for _, c := range p.ClosedPatches {
		if c < 0 || c >= p.Patches {
			errs = append(errs, fmt.Errorf("closed patch %d outside map of %d patches", c, p.Patches))
			continue
		}
		if !seen[c] {
			seen[c] = true
			open--
		}
	}
	if p.Patches > 0 && open <= 0 {
		errs = append(errs, errors.New("every patch is closed"))
	}
	if p.FriendsPerFisher < 0 {
		errs = append(errs, fmt.Errorf("friends per fisher must not be negative, got %d", p.FriendsPerFisher))
	}
	if p.Capacity < 0 || p.Catchability < 0 || p.Catchability > 1 {
		errs = append(errs, fmt.Errorf("capacity %v and catchability %v out of range", p.Capacity, p.Catchability))
	}
	if p.TotalAllowableCatch < 0 {
		errs = append(errs, fmt.Errorf("total allowable catch must not be negative, got %v", p.TotalAllowableCatch))
	}
	if p.MaxDestinationStep <= 0 {
		errs = append(errs, fmt.Errorf("max destination step must be positive, got %d", p.MaxDestinationStep))
	}
	return errors.Join(errs...)
}

// newProbabilityFactory checks the policy once and returns a factory making
// one independent policy per fisher.
func newProbabilityFactory(p Params) (func(*Fisher) adaptation.Probability[*Fisher], error) {
	build := func() (adaptation.Probability[*Fisher], error) {
		switch p.Policy {
		case "", PolicyFixed:
			return adaptation.NewFixedProbability[*Fisher](p.ExplorationProbability, p.ImitationProbability)
		case PolicyExplorationPenalty:
			return adaptation.NewExplorationPenaltyProbability[*Fisher](
				p.ExplorationProbability, p.ImitationProbability, p.PenaltyIncrement, p.MinimumExploration)
		case PolicyDailyDecreasing:
			return adaptation.NewDailyDecreasingProbability[*Fisher](
				p.ExplorationProbability, p.ImitationProbability, p.DailyDecay, p.MinimumExploration)
		default:
			return nil, fmt.Errorf("unknown probability policy %q", p.Policy)
		}
	}
	if _, err := build(); err != nil {
		return nil, err
	}
	return func(*Fisher) adaptation.Probability[*Fisher] {
		prob, _ := build()
		return prob
	}, nil
}
