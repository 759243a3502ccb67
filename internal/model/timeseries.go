package model

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/nvandessel/poseidon/internal/schedule"
)

// Gatherer produces one value of a column when a row is recorded.
type Gatherer func() float64

// Row is one recorded observation of every column.
type Row struct {
	Step   int
	Values map[string]float64
}

// TimeSeries records registered columns at a fixed phase and interval.
type TimeSeries struct {
	name      string
	phase     schedule.Phase
	every     int
	columns   []string
	gatherers map[string]Gatherer
	steps     []int
	data      map[string][]float64
	handle    *schedule.Handle
}

// NewTimeSeries creates a series recorded every `every` steps at phase.
func NewTimeSeries(name string, phase schedule.Phase, every int) *TimeSeries {
	return &TimeSeries{
		name:      name,
		phase:     phase,
		every:     every,
		gatherers: make(map[string]Gatherer),
		data:      make(map[string][]float64),
	}
}

// Name returns the series name.
func (ts *TimeSeries) Name() string { return ts.name }

// Register adds a column. Rows recorded before registration read as NaN.
func (ts *TimeSeries) Register(column string, g Gatherer) error {
	if g == nil {
		return fmt.Errorf("series %s: column %q has no gatherer", ts.name, column)
	}
	if _, ok := ts.gatherers[column]; ok {
		return fmt.Errorf("series %s: column %q already registered", ts.name, column)
	}
	ts.columns = append(ts.columns, column)
	ts.gatherers[column] = g
	backfill := make([]float64, len(ts.steps))
	for i := range backfill {
		backfill[i] = math.NaN()
	}
	ts.data[column] = backfill
	return nil
}

// Start schedules recording on the clock.
func (ts *TimeSeries) Start(clock *schedule.Clock) error {
	h, err := clock.ScheduleRepeating(schedule.ActionFunc(func(_ context.Context, c *schedule.Clock) {
		ts.Record(c.Step())
	}), ts.phase, ts.every)
	if err != nil {
		return fmt.Errorf("start series %s: %w", ts.name, err)
	}
	ts.handle = h
	return nil
}

// Stop cancels recording.
func (ts *TimeSeries) Stop() { ts.handle.Cancel() }

// Record gathers one row now.
func (ts *TimeSeries) Record(step int) {
	ts.steps = append(ts.steps, step)
	for _, col := range ts.columns {
		ts.data[col] = append(ts.data[col], ts.gatherers[col]())
	}
}

// Columns returns column names in registration order.
func (ts *TimeSeries) Columns() []string { return slices.Clone(ts.columns) }

// Len returns the number of recorded rows.
func (ts *TimeSeries) Len() int { return len(ts.steps) }

// Column returns a copy of every recorded value of column.
func (ts *TimeSeries) Column(column string) []float64 {
	return slices.Clone(ts.data[column])
}

// Latest returns the most recent value of column.
func (ts *TimeSeries) Latest(column string) (float64, bool) {
	vals := ts.data[column]
	if len(vals) == 0 {
		return math.NaN(), false
	}
	return vals[len(vals)-1], true
}

// Rows returns every recorded row in order.
func (ts *TimeSeries) Rows() []Row {
	rows := make([]Row, len(ts.steps))
	for i, step := range ts.steps {
		values := make(map[string]float64, len(ts.columns))
		for _, col := range ts.columns {
			values[col] = ts.data[col][i]
		}
		rows[i] = Row{Step: step, Values: values}
	}
	return rows
}
