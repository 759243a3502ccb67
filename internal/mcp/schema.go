package mcp

// Tool names.
const (
	ToolSimulate = "poseidon_simulate"
	ToolRuns     = "poseidon_runs"
	ToolSeries   = "poseidon_series"
	ToolExport   = "poseidon_export"
)

// SimulateInput defines the input for the poseidon_simulate tool. Unset
// fields keep the server's configured values.
type SimulateInput struct {
	Seed                   *int64   `json:"seed,omitempty" jsonschema:"Random seed of the run"`
	Years                  int      `json:"years,omitempty" jsonschema:"Number of simulated years"`
	Fishers                int      `json:"fishers,omitempty" jsonschema:"Number of fishers"`
	Policy                 string   `json:"policy,omitempty" jsonschema:"Exploration policy: fixed, exploration_penalty or daily_decreasing"`
	Objective              string   `json:"objective,omitempty" jsonschema:"Objective: cash_flow or knife_edge"`
	ExplorationProbability *float64 `json:"exploration_probability,omitempty" jsonschema:"Chance of exploring at each decision, 0 to 1"`
	ImitationProbability   *float64 `json:"imitation_probability,omitempty" jsonschema:"Chance of imitating a friend when not exploring, 0 to 1"`
	TotalAllowableCatch    *float64 `json:"total_allowable_catch,omitempty" jsonschema:"Yearly quota in kg, 0 disables it"`
}

// SimulateOutput defines the output for the poseidon_simulate tool.
type SimulateOutput struct {
	RunID             string         `json:"run_id" jsonschema:"ID of the stored run"`
	Seed              int64          `json:"seed"`
	Years             int            `json:"years"`
	Fishers           int            `json:"fishers"`
	Steps             int            `json:"steps" jsonschema:"Simulated days"`
	FinalBiomass      float64        `json:"final_biomass" jsonschema:"Total biomass at the end of the run, in kg"`
	FinalAverageCash  float64        `json:"final_average_cash"`
	YearlyLandings    []float64      `json:"yearly_landings" jsonschema:"Landings per simulated year, in kg"`
	Decisions         int            `json:"decisions" jsonschema:"Committed adaptation decisions"`
	DecisionsByStatus map[string]int `json:"decisions_by_status"`
	DurationMs        int64          `json:"duration_ms"`
}

// RunsInput defines the input for the poseidon_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum runs to return (default 20)"`
}

// RunsOutput defines the output for the poseidon_runs tool.
type RunsOutput struct {
	Runs  []RunListItem `json:"runs"`
	Count int           `json:"count" jsonschema:"Number of runs returned"`
	Total int           `json:"total" jsonschema:"Number of stored runs"`
}

// RunListItem provides a list view of a run.
type RunListItem struct {
	ID         string `json:"id"`
	Seed       int64  `json:"seed"`
	Years      int    `json:"years"`
	Fishers    int    `json:"fishers"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// SeriesInput defines the input for the poseidon_series tool.
type SeriesInput struct {
	RunID    string `json:"run_id" jsonschema:"ID of the run"`
	Series   string `json:"series,omitempty" jsonschema:"daily (default) or yearly"`
	Column   string `json:"column,omitempty" jsonschema:"Only return this column"`
	FromStep int    `json:"from_step,omitempty" jsonschema:"First step to return"`
	ToStep   int    `json:"to_step,omitempty" jsonschema:"Last step to return, 0 for no limit"`
}

// SeriesOutput defines the output for the poseidon_series tool.
type SeriesOutput struct {
	RunID   string        `json:"run_id"`
	Series  string        `json:"series"`
	Columns []string      `json:"columns"`
	Points  []SeriesPoint `json:"points"`
	Count   int           `json:"count"`
}

// SeriesPoint is one observation. Value is null when the column was undefined.
type SeriesPoint struct {
	Step   int      `json:"step"`
	Column string   `json:"column"`
	Value  *float64 `json:"value"`
}

// ExportInput defines the input for the poseidon_export tool.
type ExportInput struct {
	RunID string `json:"run_id" jsonschema:"ID of the run to export"`
	Dir   string `json:"dir,omitempty" jsonschema:"Directory for the archive. Must be inside the server's export directory. Defaults to it."`
}

// ExportOutput defines the output for the poseidon_export tool.
type ExportOutput struct {
	Path         string `json:"path" jsonschema:"Path of the written archive"`
	RunID        string `json:"run_id"`
	Checksum     string `json:"checksum" jsonschema:"SHA-256 of the compressed payload"`
	Observations int    `json:"observations"`
	Decisions    int    `json:"decisions"`
	SizeBytes    int64  `json:"size_bytes"`
	Message      string `json:"message"`
}
