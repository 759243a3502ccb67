package fishery

import (
	"fmt"
	"math"

	"github.com/nvandessel/poseidon/internal/adaptation"
)

// CashFlowObjective scores a fisher by the cash gained over the last Window
// days. It is NaN until enough history exists.
type CashFlowObjective struct {
	Window int
}

// ComputeCurrentFitness returns cash now minus cash Window days ago.
func (o CashFlowObjective) ComputeCurrentFitness(f *Fisher) float64 {
	return o.flow(f, 0)
}

// ComputePreviousFitness returns the cash flow of the window before.
func (o CashFlowObjective) ComputePreviousFitness(f *Fisher) float64 {
	return o.flow(f, o.Window)
}

func (o CashFlowObjective) flow(f *Fisher, offset int) float64 {
	end, ok := f.CashDaysAgo(offset)
	if !ok {
		return math.NaN()
	}
	start, ok := f.CashDaysAgo(offset + o.Window)
	if !ok {
		return math.NaN()
	}
	return end - start
}

// KnifeEdgeObjective turns a cash flow into +1 when it reaches Threshold and
// -1 otherwise, including when the flow is unknown.
type KnifeEdgeObjective struct {
	Threshold float64
	Delegate  CashFlowObjective
}

func (o KnifeEdgeObjective) ComputeCurrentFitness(f *Fisher) float64 {
	return o.edge(o.Delegate.ComputeCurrentFitness(f))
}

func (o KnifeEdgeObjective) ComputePreviousFitness(f *Fisher) float64 {
	return o.edge(o.Delegate.ComputePreviousFitness(f))
}

func (o KnifeEdgeObjective) edge(v float64) float64 {
	if v >= o.Threshold {
		return 1
	}
	return -1
}

// Objective names accepted in configuration.
const (
	ObjectiveCashFlow  = "cash_flow"
	ObjectiveKnifeEdge = "knife_edge"
)

func newObjective(p Params) (adaptation.ObjectiveFunction[*Fisher], error) {
	if p.ObjectiveWindow <= 0 {
		return nil, fmt.Errorf("objective window %d days must be positive", p.ObjectiveWindow)
	}
	cash := CashFlowObjective{Window: p.ObjectiveWindow}
	switch p.Objective {
	case "", ObjectiveCashFlow:
		return cash, nil
	case ObjectiveKnifeEdge:
		return KnifeEdgeObjective{Threshold: p.KnifeEdgeThreshold, Delegate: cash}, nil
	default:
		return nil, fmt.Errorf("unknown objective %q", p.Objective)
	}
}
