package fishery

import (
	"math"
	"slices"
	"testing"

	"github.com/nvandessel/poseidon/internal/adaptation"
	"github.com/nvandessel/poseidon/internal/model"
)

func smallParams() Params {
	p := DefaultParams()
	p.Fishers = 10
	p.Patches = 8
	p.ClosedPatches = []int{2, 3}
	return p
}

func newScenario(t *testing.T, seed int64, p Params) (*model.Model, *Scenario) {
	t.Helper()
	m, err := model.New(model.Options{Seed: seed, RunID: "test"})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	s, err := New(m, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, s
}

func TestPatch_Grow(t *testing.T) {
	p := &Patch{Biomass: 500, Capacity: 1000, Growth: 0.73}
	p.Grow()
	// 0.73/365 * 500 * 0.5
	if math.Abs(p.Biomass-500.5) > 1e-9 {
		t.Errorf("Biomass = %v, want 500.5", p.Biomass)
	}

	full := &Patch{Biomass: 1000, Capacity: 1000, Growth: 0.7}
	full.Grow()
	if full.Biomass != 1000 {
		t.Errorf("full patch grew to %v", full.Biomass)
	}
}

func TestPatch_Harvest(t *testing.T) {
	p := &Patch{Biomass: 200}
	if got := p.Harvest(0.1); got != 20 {
		t.Errorf("Harvest(0.1) = %v, want 20", got)
	}
	if p.Biomass != 180 {
		t.Errorf("Biomass = %v, want 180", p.Biomass)
	}
	if got := p.Harvest(2); got != 180 || p.Biomass != 0 {
		t.Errorf("Harvest(2) = %v leaving %v, want 180 leaving 0", got, p.Biomass)
	}
}

func TestCashFlowObjective(t *testing.T) {
	f := &Fisher{CashHistory: []float64{0, 10, 30, 60, 100}}
	o := CashFlowObjective{Window: 2}

	if got := o.ComputeCurrentFitness(f); got != 70 {
		t.Errorf("current = %v, want 70 (100-30)", got)
	}
	if got := o.ComputePreviousFitness(f); got != 30 {
		t.Errorf("previous = %v, want 30 (30-0)", got)
	}

	short := &Fisher{CashHistory: []float64{0, 5}}
	if got := o.ComputeCurrentFitness(short); !math.IsNaN(got) {
		t.Errorf("short history current = %v, want NaN", got)
	}
}

func TestKnifeEdgeObjective(t *testing.T) {
	o := KnifeEdgeObjective{Threshold: 50, Delegate: CashFlowObjective{Window: 2}}
	f := &Fisher{CashHistory: []float64{0, 10, 30, 60, 100}}
	if got := o.ComputeCurrentFitness(f); got != 1 {
		t.Errorf("current = %v, want 1", got)
	}
	if got := o.ComputePreviousFitness(f); got != -1 {
		t.Errorf("previous = %v, want -1", got)
	}
	if got := o.ComputeCurrentFitness(&Fisher{}); got != -1 {
		t.Errorf("no history = %v, want -1", got)
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults", func(*Params) {}, false},
		{"no fishers", func(p *Params) { p.Fishers = 0 }, true},
		{"no patches", func(p *Params) { p.Patches = 0 }, true},
		{"closed outside map", func(p *Params) { p.ClosedPatches = []int{99} }, true},
		{"all closed", func(p *Params) {
			p.Patches = 2
			p.ClosedPatches = []int{0, 1, 1}
		}, true},
		{"catchability above one", func(p *Params) { p.Catchability = 2 }, true},
		{"negative quota", func(p *Params) { p.TotalAllowableCatch = -1 }, true},
		{"zero step", func(p *Params) { p.MaxDestinationStep = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RejectsUnknownNames(t *testing.T) {
	m, err := model.New(model.Options{})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	p := smallParams()
	p.Policy = "random_walk"
	if _, err := New(m, p); err == nil {
		t.Error("expected error for unknown policy")
	}
	p = smallParams()
	p.Objective = "profit"
	if _, err := New(m, p); err == nil {
		t.Error("expected error for unknown objective")
	}
	p = smallParams()
	p.ExplorationProbability = 1.5
	if _, err := New(m, p); err == nil {
		t.Error("expected error for exploration probability above 1")
	}
	p = smallParams()
	p.FriendsPerFisher = 10
	if _, err := New(m, p); err == nil {
		t.Error("expected error for more friends than fishers")
	}
}

func TestFisher_RecordCashKeepsWindow(t *testing.T) {
	f := &Fisher{CashHistory: []float64{0}}
	for day := 1; day <= 1000; day++ {
		f.Cash = float64(day)
		f.recordCash(11)
		if len(f.CashHistory) > 11 {
			t.Fatalf("day %d: %d cash records, want at most 11", day, len(f.CashHistory))
		}
	}
	if cap(f.CashHistory) > 32 {
		t.Errorf("cap(CashHistory) = %d, history is still growing", cap(f.CashHistory))
	}
	for days, want := range map[int]float64{0: 1000, 5: 995, 10: 990} {
		if got, ok := f.CashDaysAgo(days); !ok || got != want {
			t.Errorf("CashDaysAgo(%d) = %v, %v; want %v, true", days, got, ok, want)
		}
	}
	if _, ok := f.CashDaysAgo(11); ok {
		t.Error("CashDaysAgo(11) reached past the kept window")
	}
}

func TestScenario_ObjectiveSurvivesTrimmedHistory(t *testing.T) {
	p := smallParams()
	m, s := newScenario(t, 9, p)
	if err := m.RunYears(t.Context(), 2); err != nil {
		t.Fatalf("RunYears: %v", err)
	}
	o := CashFlowObjective{Window: p.ObjectiveWindow}
	for _, f := range s.Fishers {
		if len(f.CashHistory) > 2*p.ObjectiveWindow+1 {
			t.Fatalf("%s kept %d cash records after two years", f, len(f.CashHistory))
		}
		if math.IsNaN(o.ComputeCurrentFitness(f)) || math.IsNaN(o.ComputePreviousFitness(f)) {
			t.Errorf("%s fitness is NaN with a trimmed history", f)
		}
	}
}

func TestScenario_OneYear(t *testing.T) {
	m, s := newScenario(t, 7, smallParams())
	if err := m.RunYears(t.Context(), 1); err != nil {
		t.Fatalf("RunYears: %v", err)
	}

	for _, f := range s.Fishers {
		if !s.fishable(f.Destination) {
			t.Errorf("%s ended on unfishable patch %d", f, f.Destination)
		}
		if want := 2*smallParams().ObjectiveWindow + 1; len(f.CashHistory) != want {
			t.Errorf("%s has %d cash records, want %d", f, len(f.CashHistory), want)
		}
		if got, _ := f.CashDaysAgo(0); got != f.Cash {
			t.Errorf("%s latest cash record %v, want %v", f, got, f.Cash)
		}
	}
	for _, i := range []int{2, 3} {
		if s.Patches[i].Biomass != s.Patches[i].Capacity {
			t.Errorf("closed patch %d was fished: biomass %v", i, s.Patches[i].Biomass)
		}
	}

	if m.Daily.Len() != 365 || m.Yearly.Len() != 1 {
		t.Errorf("rows daily=%d yearly=%d, want 365 and 1", m.Daily.Len(), m.Yearly.Len())
	}
	landed, _ := m.Yearly.Latest(ColumnYearlyLandings)
	daily := m.Daily.Column(ColumnLandings)
	sum := 0.0
	for _, v := range daily {
		sum += v
	}
	if math.Abs(landed-sum) > 1e-9*math.Max(1, sum) {
		t.Errorf("yearly landings %v != sum of daily landings %v", landed, sum)
	}
	if s.YearLandings() != 0 {
		t.Errorf("YearLandings() = %v after yearly reset, want 0", s.YearLandings())
	}
	if len(m.DecisionLog()) == 0 {
		t.Error("no adaptation decisions recorded")
	}
}

func TestScenario_Deterministic(t *testing.T) {
	run := func() []float64 {
		m, _ := newScenario(t, 11, smallParams())
		if err := m.RunYears(t.Context(), 1); err != nil {
			t.Fatalf("RunYears: %v", err)
		}
		return m.Daily.Column(ColumnAverageCash)
	}
	if a, b := run(), run(); !slices.Equal(a, b) {
		t.Error("same seed produced different average cash series")
	}
}

func TestScenario_QuotaClosesFishery(t *testing.T) {
	p := smallParams()
	p.TotalAllowableCatch = 500
	m, s := newScenario(t, 3, p)
	if err := m.RunYears(t.Context(), 1); err != nil {
		t.Fatalf("RunYears: %v", err)
	}

	daily := m.Daily.Column(ColumnLandings)
	for i := 100; i < len(daily); i++ {
		if daily[i] != 0 {
			t.Fatalf("landings %v at step %d after quota reached", daily[i], i+1)
		}
	}
	landed, _ := m.Yearly.Latest(ColumnYearlyLandings)
	if landed < 500 {
		t.Errorf("yearly landings %v below quota", landed)
	}
	if s.Banned() {
		t.Error("ban not lifted by yearly reset")
	}
	for _, f := range s.Fishers {
		if !f.AllowedAtSea {
			t.Errorf("%s still banned after reset", f)
		}
	}
}

func TestScenario_PureExploration(t *testing.T) {
	p := smallParams()
	p.ExplorationProbability = 1
	p.ImitationProbability = 0
	m, _ := newScenario(t, 5, p)
	if err := m.RunYears(t.Context(), 1); err != nil {
		t.Fatalf("RunYears: %v", err)
	}
	for _, d := range m.DecisionLog() {
		if d.Status == adaptation.Imitating.String() {
			t.Fatalf("imitation at step %d with imitation probability 0", d.Step)
		}
	}
	if v, _ := m.Daily.Latest(ColumnImitating); v != 0 {
		t.Errorf("imitating fishers = %v, want 0", v)
	}
}

func TestScenario_Policies(t *testing.T) {
	for _, policy := range []string{PolicyFixed, PolicyExplorationPenalty, PolicyDailyDecreasing} {
		t.Run(policy, func(t *testing.T) {
			p := smallParams()
			p.Policy = policy
			m, s := newScenario(t, 1, p)
			if err := m.RunYears(t.Context(), 1); err != nil {
				t.Fatalf("RunYears: %v", err)
			}
			if s.Adapt.Agents() != p.Fishers {
				t.Errorf("Agents() = %d, want %d", s.Adapt.Agents(), p.Fishers)
			}
		})
	}
}
