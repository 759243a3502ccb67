// Package fishery is the prototype scenario: fishers on a line of sea
// patches, each learning where to fish through explore/imitate adaptation.
package fishery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/nvandessel/poseidon/internal/adaptation"
	"github.com/nvandessel/poseidon/internal/logging"
	"github.com/nvandessel/poseidon/internal/model"
	"github.com/nvandessel/poseidon/internal/network"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// Daily and yearly column names.
const (
	ColumnBiomass        = "Biomass"
	ColumnLandings       = "Landings"
	ColumnAverageCash    = "Average Cash"
	ColumnExploring      = "Exploring Fishers"
	ColumnImitating      = "Imitating Fishers"
	ColumnYearlyLandings = "Yearly Landings"
)

// AttributeDestination names the adapted attribute.
const AttributeDestination = "destination"

// Scenario owns the world and the fishers of one run.
type Scenario struct {
	params  Params
	model   *model.Model
	Patches []*Patch
	Fishers []*Fisher
	Network *network.Directed[*Fisher]
	Adapt   *adaptation.ExploreImitate[*Fisher, int]

	yearLandings float64
	banned       bool

	// cashDays is how much cash history a fisher keeps: the objective looks
	// back at most two windows.
	cashDays int
}

// New builds the world, the fishers and their social network. Nothing is
// scheduled until Start.
func New(m *model.Model, p Params) (*Scenario, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Scenario{params: p, model: m, cashDays: 2*p.ObjectiveWindow + 1}

	for i := range p.Patches {
		s.Patches = append(s.Patches, &Patch{
			Index:    i,
			Biomass:  p.Capacity,
			Capacity: p.Capacity,
			Growth:   p.GrowthRate,
			Closed:   slices.Contains(p.ClosedPatches, i),
		})
	}

	for i := range p.Fishers {
		s.Fishers = append(s.Fishers, &Fisher{
			ID:           i,
			Destination:  s.randomOpenPatch(),
			AllowedAtSea: true,
			CashHistory:  []float64{0},
		})
	}

	g, err := network.NewEquidegree(s.Fishers, p.FriendsPerFisher, m.Rand)
	if err != nil {
		return nil, fmt.Errorf("build fisher network: %w", err)
	}
	s.Network = g

	objective, err := newObjective(p)
	if err != nil {
		return nil, err
	}
	probability, err := newProbabilityFactory(p)
	if err != nil {
		return nil, err
	}

	s.Adapt, err = adaptation.NewExploreImitate(adaptation.Config[*Fisher, int]{
		Name:      AttributeDestination,
		Algorithm: adaptation.NewIntervalClimber[*Fisher](p.MaxDestinationStep),
		Sensor: adaptation.SensorFunc[*Fisher, int](func(f *Fisher) int {
			return f.Destination
		}),
		Actuator: adaptation.ActuatorFunc[*Fisher, int](func(f *Fisher, d int) {
			f.Destination = d
		}),
		Objective:        objective,
		Probability:      probability,
		Equal:            func(a, b int) bool { return a == b },
		ExplorationCheck: s.fishable,
		Friends:          g.Extractor(),
		Eligible:         func(f *Fisher) bool { return f.AllowedAtSea },
		Phase:            p.AdaptationPhase,
		IntervalDays:     p.AdaptationIntervalDays,
		OnDecision:       s.recordDecision,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// fishable reports whether destination is on the map and open.
func (s *Scenario) fishable(destination int) bool {
	return destination >= 0 && destination < len(s.Patches) && !s.Patches[destination].Closed
}

func (s *Scenario) randomOpenPatch() int {
	for {
		d := s.model.Rand.Intn(len(s.Patches))
		if s.fishable(d) {
			return d
		}
	}
}

func (s *Scenario) recordDecision(ev adaptation.DecisionEvent[*Fisher, int]) {
	s.model.RecordDecision(logging.Decision{
		Agent:     ev.Agent.String(),
		Attribute: ev.Name,
		Status:    ev.Status.String(),
		Value:     strconv.Itoa(ev.Value),
		Fitness:   ev.Fitness,
	})
}

// Start schedules the daily cycle, the yearly quota reset, every fisher's
// adaptation and the data columns.
func (s *Scenario) Start() error {
	m := s.model
	steps := []struct {
		name  string
		phase schedule.Phase
		every int
		fn    func()
	}{
		{"grow", schedule.Biology, 1, s.grow},
		{"depart", schedule.Departing, 1, s.depart},
		{"fish", schedule.Fishing, 1, s.fish},
		{"market", schedule.MarketClearing, 1, s.clearMarket},
	}
	for _, st := range steps {
		fn := st.fn
		if _, err := m.Schedule(st.name, schedule.ActionFunc(func(context.Context, *schedule.Clock) { fn() }), st.phase, st.every); err != nil {
			return err
		}
	}
	if _, err := m.Clock.ScheduleEveryYear(schedule.ActionFunc(func(context.Context, *schedule.Clock) {
		s.resetYear()
	}), schedule.AfterData); err != nil {
		return fmt.Errorf("schedule yearly reset: %w", err)
	}

	for _, f := range s.Fishers {
		if err := s.Adapt.Start(m.Clock, m.Rand, f); err != nil {
			return fmt.Errorf("start adaptation of %s: %w", f, err)
		}
	}
	return s.registerColumns()
}

func (s *Scenario) registerColumns() error {
	daily := []struct {
		name string
		g    model.Gatherer
	}{
		{ColumnBiomass, s.TotalBiomass},
		{ColumnLandings, s.landingsToday},
		{ColumnAverageCash, s.AverageCash},
		{ColumnExploring, s.countStatus(adaptation.Exploring)},
		{ColumnImitating, s.countStatus(adaptation.Imitating)},
	}
	yearly := []struct {
		name string
		g    model.Gatherer
	}{
		{ColumnYearlyLandings, func() float64 { return s.yearLandings }},
		{ColumnAverageCash, s.AverageCash},
		{ColumnBiomass, s.TotalBiomass},
	}
	var errs []error
	for _, c := range daily {
		errs = append(errs, s.model.Daily.Register(c.name, c.g))
	}
	for _, c := range yearly {
		errs = append(errs, s.model.Yearly.Register(c.name, c.g))
	}
	return errors.Join(errs...)
}

func (s *Scenario) grow() {
	for _, p := range s.Patches {
		p.Grow()
	}
}

func (s *Scenario) depart() {
	for _, f := range s.Fishers {
		f.CatchToday = 0
		f.AtSea = f.AllowedAtSea && s.fishable(f.Destination)
	}
}

func (s *Scenario) fish() {
	for _, f := range s.Fishers {
		if !f.AtSea {
			continue
		}
		f.CatchToday = s.Patches[f.Destination].Harvest(s.params.Catchability)
	}
}

func (s *Scenario) clearMarket() {
	for _, f := range s.Fishers {
		if f.AtSea {
			f.Cash += f.CatchToday*s.params.Price - s.TravelCost(f.Destination)
			f.CatchYear += f.CatchToday
			s.yearLandings += f.CatchToday
			f.AtSea = false
		}
		f.recordCash(s.cashDays)
	}
	if s.params.TotalAllowableCatch > 0 && !s.banned && s.yearLandings >= s.params.TotalAllowableCatch {
		s.banned = true
		for _, f := range s.Fishers {
			f.AllowedAtSea = false
		}
		s.model.Logger.Info("quota reached, fishery closed",
			"step", s.model.Clock.Step(), "landings", s.yearLandings)
	}
}

func (s *Scenario) resetYear() {
	s.yearLandings = 0
	s.banned = false
	for _, f := range s.Fishers {
		f.CatchYear = 0
		f.AllowedAtSea = true
	}
}

// TravelCost is the daily cost of fishing the given patch. Patch 0 is next
// to port.
func (s *Scenario) TravelCost(destination int) float64 {
	return s.params.TravelCost * float64(destination+1)
}

// TotalBiomass sums the biomass of every patch.
func (s *Scenario) TotalBiomass() float64 {
	total := 0.0
	for _, p := range s.Patches {
		total += p.Biomass
	}
	return total
}

// AverageCash is the mean cash across fishers.
func (s *Scenario) AverageCash() float64 {
	if len(s.Fishers) == 0 {
		return 0
	}
	total := 0.0
	for _, f := range s.Fishers {
		total += f.Cash
	}
	return total / float64(len(s.Fishers))
}

// YearLandings returns the catch landed so far this year.
func (s *Scenario) YearLandings() float64 { return s.yearLandings }

// Banned reports whether the yearly quota closed the fishery.
func (s *Scenario) Banned() bool { return s.banned }

func (s *Scenario) landingsToday() float64 {
	total := 0.0
	for _, f := range s.Fishers {
		total += f.CatchToday
	}
	return total
}

func (s *Scenario) countStatus(want adaptation.Status) model.Gatherer {
	return func() float64 {
		n := 0
		for _, f := range s.Fishers {
			if st, ok := s.Adapt.Status(f); ok && st == want {
				n++
			}
		}
		return float64(n)
	}
}
