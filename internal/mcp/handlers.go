package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/patrickmn/go-cache"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/export"
	"github.com/nvandessel/poseidon/internal/pathutil"
	"github.com/nvandessel/poseidon/internal/simulation"
	"github.com/nvandessel/poseidon/internal/store"
)

// Upper bounds on a single simulate call.
const (
	maxSimulateYears   = 100
	maxSimulateFishers = 5000
	defaultRunsLimit   = 20
	defaultExportKeep  = 10
)

func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolSimulate, start, retErr, sanitizeToolParams(map[string]any{
			"seed": args.Seed, "years": args.Years, "fishers": args.Fishers, "policy": args.Policy,
			"objective": args.Objective, "exploration_probability": args.ExplorationProbability,
			"imitation_probability": args.ImitationProbability, "total_allowable_catch": args.TotalAllowableCatch,
		}))
	}()

	if err := s.toolLimiters.Check(ToolSimulate); err != nil {
		return nil, SimulateOutput{}, err
	}

	cfg := *s.base
	cfg.Scenario.ClosedPatches = slices.Clone(s.base.Scenario.ClosedPatches)
	if args.Seed != nil {
		cfg.Seed = *args.Seed
	}
	if args.Years != 0 {
		cfg.Years = args.Years
	}
	if args.Fishers != 0 {
		cfg.Scenario.Fishers = args.Fishers
	}
	if args.Policy != "" {
		cfg.Adaptation.Policy = args.Policy
	}
	if args.Objective != "" {
		cfg.Adaptation.Objective = args.Objective
	}
	if args.ExplorationProbability != nil {
		cfg.Adaptation.ExplorationProbability = *args.ExplorationProbability
	}
	if args.ImitationProbability != nil {
		cfg.Adaptation.ImitationProbability = *args.ImitationProbability
	}
	if args.TotalAllowableCatch != nil {
		cfg.Scenario.TotalAllowableCatch = *args.TotalAllowableCatch
	}
	if cfg.Years > maxSimulateYears {
		return nil, SimulateOutput{}, toolError(ToolSimulate, fmt.Errorf("years must be at most %d, got %d", maxSimulateYears, cfg.Years))
	}
	if cfg.Scenario.Fishers > maxSimulateFishers {
		return nil, SimulateOutput{}, toolError(ToolSimulate, fmt.Errorf("fishers must be at most %d, got %d", maxSimulateFishers, cfg.Scenario.Fishers))
	}

	runner, err := simulation.NewRunner(simulation.Options{
		Config: &cfg,
		Store:  s.store,
		Logger: s.logger,
	})
	if err != nil {
		return nil, SimulateOutput{}, toolError(ToolSimulate, err)
	}
	result, err := runner.Run(ctx)
	if err != nil {
		return nil, SimulateOutput{}, toolError(ToolSimulate, err)
	}

	return nil, SimulateOutput{
		RunID:             result.RunID,
		Seed:              result.Seed,
		Years:             result.Years,
		Fishers:           result.Fishers,
		Steps:             result.Steps,
		FinalBiomass:      result.FinalBiomass,
		FinalAverageCash:  result.FinalAverageCash,
		YearlyLandings:    result.YearlyLandings,
		Decisions:         result.Decisions,
		DecisionsByStatus: result.DecisionsByStatus,
		DurationMs:        result.Duration.Milliseconds(),
	}, nil
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolRuns, start, retErr, sanitizeToolParams(map[string]any{"limit": args.Limit}))
	}()

	if err := s.toolLimiters.Check(ToolRuns); err != nil {
		return nil, RunsOutput{}, err
	}

	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, RunsOutput{}, toolError(ToolRuns, err)
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	out := RunsOutput{Runs: []RunListItem{}, Total: len(runs)}
	for _, r := range runs {
		if len(out.Runs) == limit {
			break
		}
		item := RunListItem{
			ID:        r.ID,
			Seed:      r.Seed,
			Years:     r.Years,
			Fishers:   r.Fishers,
			Status:    r.Status,
			StartedAt: r.StartedAt.Format(time.RFC3339),
		}
		if r.FinishedAt != nil {
			item.FinishedAt = r.FinishedAt.Format(time.RFC3339)
		}
		out.Runs = append(out.Runs, item)
	}
	out.Count = len(out.Runs)
	return nil, out, nil
}

func (s *Server) handleSeries(ctx context.Context, req *sdk.CallToolRequest, args SeriesInput) (_ *sdk.CallToolResult, _ SeriesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolSeries, start, retErr, sanitizeToolParams(map[string]any{
			"run_id": args.RunID, "series": args.Series, "column": args.Column,
			"from_step": args.FromStep, "to_step": args.ToStep,
		}))
	}()

	if err := s.toolLimiters.Check(ToolSeries); err != nil {
		return nil, SeriesOutput{}, err
	}
	if args.RunID == "" {
		return nil, SeriesOutput{}, toolError(ToolSeries, errors.New("run_id is required"))
	}
	series := args.Series
	if series == "" {
		series = constants.SeriesDaily
	}
	if series != constants.SeriesDaily && series != constants.SeriesYearly {
		return nil, SeriesOutput{}, toolError(ToolSeries, fmt.Errorf("unknown series %q (valid: daily, yearly)", series))
	}

	run, err := s.store.GetRun(ctx, args.RunID)
	if err != nil {
		return nil, SeriesOutput{}, toolError(ToolSeries, err)
	}
	obs, err := s.observations(ctx, run, series)
	if err != nil {
		return nil, SeriesOutput{}, toolError(ToolSeries, err)
	}

	out := SeriesOutput{RunID: args.RunID, Series: series, Columns: []string{}, Points: []SeriesPoint{}}
	seen := map[string]bool{}
	for _, o := range obs {
		if args.Column != "" && o.Column != args.Column {
			continue
		}
		if o.Step < args.FromStep || (args.ToStep > 0 && o.Step > args.ToStep) {
			continue
		}
		if !seen[o.Column] {
			seen[o.Column] = true
			out.Columns = append(out.Columns, o.Column)
		}
		p := SeriesPoint{Step: o.Step, Column: o.Column}
		if !math.IsNaN(o.Value) && !math.IsInf(o.Value, 0) {
			v := o.Value
			p.Value = &v
		}
		out.Points = append(out.Points, p)
	}
	slices.Sort(out.Columns)
	out.Count = len(out.Points)
	return nil, out, nil
}

// observations returns one series of run. Series of runs that are no longer
// running never change, so they are cached.
func (s *Server) observations(ctx context.Context, run *store.Run, series string) ([]store.Observation, error) {
	key := run.ID + "/" + series
	if v, ok := s.seriesCache.Get(key); ok {
		return v.([]store.Observation), nil
	}
	obs, err := s.store.Observations(ctx, run.ID, series)
	if err != nil {
		return nil, err
	}
	if run.Status != store.RunRunning {
		s.seriesCache.Set(key, obs, cache.DefaultExpiration)
	}
	return obs, nil
}

func (s *Server) handleExport(ctx context.Context, req *sdk.CallToolRequest, args ExportInput) (_ *sdk.CallToolResult, _ ExportOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolExport, start, retErr, sanitizeToolParams(map[string]any{
			"run_id": args.RunID, "dir": args.Dir,
		}))
	}()

	if err := s.toolLimiters.Check(ToolExport); err != nil {
		return nil, ExportOutput{}, err
	}
	if s.exportDir == "" {
		return nil, ExportOutput{}, toolError(ToolExport, errors.New("no export directory configured"))
	}
	if args.RunID == "" {
		return nil, ExportOutput{}, toolError(ToolExport, errors.New("run_id is required"))
	}

	dir := s.exportDir
	if args.Dir != "" {
		// Caller-chosen directory: must stay under the export directory
		if err := pathutil.ValidatePath(args.Dir, pathutil.AllowedExportDirs(s.exportDir)); err != nil {
			return nil, ExportOutput{}, toolError(ToolExport, fmt.Errorf("export path rejected: %w", err))
		}
		dir = args.Dir
	}

	sink := &export.FileSink{Dir: dir, Retention: s.retention}
	location, header, err := export.Export(ctx, s.store, args.RunID, sink)
	if err != nil {
		return nil, ExportOutput{}, toolError(ToolExport, err)
	}

	var sizeBytes int64
	if info, err := os.Stat(location); err == nil {
		sizeBytes = info.Size()
	}
	return nil, ExportOutput{
		Path:         location,
		RunID:        header.RunID,
		Checksum:     header.Checksum,
		Observations: header.ObservationCount,
		Decisions:    header.DecisionCount,
		SizeBytes:    sizeBytes,
		Message: fmt.Sprintf("Exported %d observations and %d decisions to %s",
			header.ObservationCount, header.DecisionCount, pathutil.RedactPath(location)),
	}, nil
}
