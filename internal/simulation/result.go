package simulation

import (
	"time"

	"github.com/nvandessel/poseidon/internal/adaptation"
	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/fishery"
	"github.com/nvandessel/poseidon/internal/model"
)

// Result summarizes a finished run.
type Result struct {
	RunID     string        `json:"run_id"`
	Seed      int64         `json:"seed"`
	Years     int           `json:"years"`
	Fishers   int           `json:"fishers"`
	Steps     int           `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	FinalBiomass     float64   `json:"final_biomass"`
	FinalAverageCash float64   `json:"final_average_cash"`
	YearlyLandings   []float64 `json:"yearly_landings"`

	// Decisions counts committed decisions; DecisionsByStatus splits them
	// by status name.
	Decisions         int            `json:"decisions"`
	DecisionsByStatus map[string]int `json:"decisions_by_status"`
}

func summarize(runID string, cfg *config.PoseidonConfig, m *model.Model, sc *fishery.Scenario) *Result {
	r := &Result{
		RunID:             runID,
		Seed:              cfg.Seed,
		Years:             cfg.Years,
		Fishers:           len(sc.Fishers),
		Steps:             m.Clock.Step(),
		FinalBiomass:      sc.TotalBiomass(),
		FinalAverageCash:  sc.AverageCash(),
		YearlyLandings:    m.Yearly.Column(fishery.ColumnYearlyLandings),
		DecisionsByStatus: map[string]int{},
	}
	for _, s := range []adaptation.Status{adaptation.Exploiting, adaptation.Exploring, adaptation.Imitating} {
		r.DecisionsByStatus[s.String()] = 0
	}
	total, byStatus := m.DecisionCount()
	r.Decisions = total
	for status, n := range byStatus {
		r.DecisionsByStatus[status] = n
	}
	return r
}
