// Package export packs a stored run into a self-checking archive and ships it
// to a local directory or an S3 bucket.
package export

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nvandessel/poseidon/internal/store"
)

// Archive is the payload of an export: one run with everything recorded for it.
type Archive struct {
	Version      int              `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	Run          store.Run        `json:"run"`
	Observations []ObservationRow `json:"observations"`
	Decisions    []DecisionRow    `json:"decisions"`
}

// ObservationRow is a store.Observation without the run ID. A nil Value is NaN.
type ObservationRow struct {
	Series string   `json:"series"`
	Step   int      `json:"step"`
	Column string   `json:"column"`
	Value  *float64 `json:"value"`
}

// DecisionRow is a store.Decision without the run ID. A nil Fitness is NaN.
type DecisionRow struct {
	Step      int      `json:"step"`
	Agent     string   `json:"agent"`
	Attribute string   `json:"attribute"`
	Status    string   `json:"status"`
	Value     string   `json:"value"`
	Fitness   *float64 `json:"fitness"`
}

// Build reads a run and all its rows from rs.
func Build(ctx context.Context, rs store.RunStore, runID string) (*Archive, error) {
	run, err := rs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	obs, err := rs.Observations(ctx, runID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	decisions, err := rs.Decisions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}

	a := &Archive{
		Version:      FormatVersion,
		CreatedAt:    time.Now().UTC(),
		Run:          *run,
		Observations: make([]ObservationRow, len(obs)),
		Decisions:    make([]DecisionRow, len(decisions)),
	}
	for i, o := range obs {
		a.Observations[i] = ObservationRow{Series: o.Series, Step: o.Step, Column: o.Column, Value: finitePtr(o.Value)}
	}
	for i, d := range decisions {
		a.Decisions[i] = DecisionRow{
			Step:      d.Step,
			Agent:     d.Agent,
			Attribute: d.Attribute,
			Status:    d.Status,
			Value:     d.Value,
			Fitness:   finitePtr(d.Fitness),
		}
	}
	return a, nil
}

// Restore writes the archived run into rs. The run ID must not exist there yet.
func Restore(ctx context.Context, rs store.RunStore, a *Archive) error {
	if err := rs.CreateRun(ctx, a.Run); err != nil {
		return fmt.Errorf("failed to restore run: %w", err)
	}

	obs := make([]store.Observation, len(a.Observations))
	for i, o := range a.Observations {
		obs[i] = store.Observation{RunID: a.Run.ID, Series: o.Series, Step: o.Step, Column: o.Column, Value: fromPtr(o.Value)}
	}
	if err := rs.AddObservations(ctx, obs); err != nil {
		return fmt.Errorf("failed to restore observations: %w", err)
	}

	decisions := make([]store.Decision, len(a.Decisions))
	for i, d := range a.Decisions {
		decisions[i] = store.Decision{
			RunID:     a.Run.ID,
			Step:      d.Step,
			Agent:     d.Agent,
			Attribute: d.Attribute,
			Status:    d.Status,
			Value:     d.Value,
			Fitness:   fromPtr(d.Fitness),
		}
	}
	if err := rs.AddDecisions(ctx, decisions); err != nil {
		return fmt.Errorf("failed to restore decisions: %w", err)
	}
	return nil
}

// Export builds the archive for runID and hands it to sink. It returns where
// the archive was written.
func Export(ctx context.Context, rs store.RunStore, runID string, sink Sink) (string, *Header, error) {
	a, err := Build(ctx, rs, runID)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	header, err := Encode(&buf, a)
	if err != nil {
		return "", nil, err
	}
	location, err := sink.Put(ctx, FileName(runID, a.CreatedAt), buf.Bytes())
	if err != nil {
		return "", nil, err
	}
	return location, header, nil
}

func finitePtr(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func fromPtr(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}
