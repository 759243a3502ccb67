package schedule

import (
	"fmt"
	"strings"
)

// Phase is a fixed-order slot within a tick. Lower phases run first.
type Phase int

const (
	Dawn Phase = iota
	Biology
	Departing
	Movement
	Fishing
	MarketClearing
	PolicyUpdate
	DailyDataGathering
	YearlyDataGathering
	AggregateDataGathering
	AfterData

	phaseCount
)

var phaseNames = [phaseCount]string{
	Dawn:                   "dawn",
	Biology:                "biology",
	Departing:              "departing",
	Movement:               "movement",
	Fishing:                "fishing",
	MarketClearing:         "market_clearing",
	PolicyUpdate:           "policy_update",
	DailyDataGathering:     "daily_data_gathering",
	YearlyDataGathering:    "yearly_data_gathering",
	AggregateDataGathering: "aggregate_data_gathering",
	AfterData:              "after_data",
}

// Phases returns every phase in execution order.
func Phases() []Phase {
	out := make([]Phase, 0, phaseCount)
	for p := Dawn; p < phaseCount; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	return p >= Dawn && p < phaseCount
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase maps a configuration name (case-insensitive, dashes allowed)
// to its Phase.
func ParsePhase(s string) (Phase, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for p := Dawn; p < phaseCount; p++ {
		if phaseNames[p] == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase: %q", s)
}
