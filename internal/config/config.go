// Package config provides unified configuration loading for poseidon.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/fishery"
	"github.com/nvandessel/poseidon/internal/schedule"
)

// PoseidonConfig contains all poseidon configuration settings.
type PoseidonConfig struct {
	// Seed drives every random draw of a run.
	Seed int64 `json:"seed" yaml:"seed"`

	// Years is the number of simulated years per run.
	Years int `json:"years" yaml:"years"`

	Scenario   ScenarioConfig   `json:"scenario" yaml:"scenario"`
	Adaptation AdaptationConfig `json:"adaptation" yaml:"adaptation"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Export     ExportConfig     `json:"export" yaml:"export"`
}

// ScenarioConfig describes the fishery world.
type ScenarioConfig struct {
	Fishers          int   `json:"fishers" yaml:"fishers"`
	Patches          int   `json:"patches" yaml:"patches"`
	ClosedPatches    []int `json:"closed_patches,omitempty" yaml:"closed_patches,omitempty"`
	FriendsPerFisher int   `json:"friends_per_fisher" yaml:"friends_per_fisher"`

	Capacity     float64 `json:"capacity" yaml:"capacity"`
	GrowthRate   float64 `json:"growth_rate" yaml:"growth_rate"`
	Catchability float64 `json:"catchability" yaml:"catchability"`
	Price        float64 `json:"price" yaml:"price"`
	TravelCost   float64 `json:"travel_cost" yaml:"travel_cost"`

	// TotalAllowableCatch is the yearly quota in kg. 0 disables it.
	TotalAllowableCatch float64 `json:"total_allowable_catch" yaml:"total_allowable_catch"`
}

// AdaptationConfig configures how fishers learn their destination.
type AdaptationConfig struct {
	// Policy is "fixed", "exploration_penalty" or "daily_decreasing".
	Policy                 string  `json:"policy" yaml:"policy"`
	ExplorationProbability float64 `json:"exploration_probability" yaml:"exploration_probability"`
	ImitationProbability   float64 `json:"imitation_probability" yaml:"imitation_probability"`
	PenaltyIncrement       float64 `json:"penalty_increment" yaml:"penalty_increment"`
	MinimumExploration     float64 `json:"minimum_exploration" yaml:"minimum_exploration"`
	DailyDecay             float64 `json:"daily_decay" yaml:"daily_decay"`

	IntervalDays       int    `json:"interval_days" yaml:"interval_days"`
	Phase              string `json:"phase" yaml:"phase"`
	MaxDestinationStep int    `json:"max_destination_step" yaml:"max_destination_step"`

	// Objective is "cash_flow" or "knife_edge".
	Objective          string  `json:"objective" yaml:"objective"`
	ObjectiveWindow    int     `json:"objective_window" yaml:"objective_window"`
	KnifeEdgeThreshold float64 `json:"knife_edge_threshold" yaml:"knife_edge_threshold"`
}

// StoreConfig selects where runs are persisted.
type StoreConfig struct {
	// Backend is "memory", "sqlite" or "postgres".
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite directory. Defaults to ~/.poseidon.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DSN is the Postgres connection string. Supports ${VAR} syntax for env vars.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RedactedDSN masks the password of a URL-style DSN.
func (c StoreConfig) RedactedDSN() string {
	at := strings.LastIndex(c.DSN, "@")
	scheme := strings.Index(c.DSN, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return c.DSN
	}
	creds := c.DSN[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return c.DSN[:scheme+3] + user + ":***" + c.DSN[at:]
	}
	return c.DSN
}

// String implements fmt.Stringer to prevent accidental password logging.
func (c StoreConfig) String() string {
	return fmt.Sprintf("StoreConfig{Backend:%s, Path:%s, DSN:%s}", c.Backend, c.Path, c.RedactedDSN())
}

// LoggingConfig configures poseidon's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to <store path>/decisions.jsonl.
	// "trace" additionally logs every fired scheduler action.
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TracingConfig toggles OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Output is a file path for exported spans. Empty means stderr.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics during a run, e.g. ":9090".
	// Empty disables the endpoint.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// ExportConfig configures run archive destinations.
type ExportConfig struct {
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config describes an S3 (or S3-compatible) bucket.
type S3Config struct {
	Bucket       string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
}

// Default returns a PoseidonConfig with sensible defaults.
func Default() *PoseidonConfig {
	return &PoseidonConfig{
		Seed:  0,
		Years: constants.DefaultYears,
		Scenario: ScenarioConfig{
			Fishers:          constants.DefaultFishers,
			Patches:          constants.DefaultPatches,
			FriendsPerFisher: constants.DefaultFriendsPerFisher,
			Capacity:         constants.DefaultPatchCapacity,
			GrowthRate:       constants.DefaultGrowthRate,
			Catchability:     constants.DefaultCatchability,
			Price:            constants.DefaultPrice,
			TravelCost:       constants.DefaultTravelCost,
		},
		Adaptation: AdaptationConfig{
			Policy:                 fishery.PolicyFixed,
			ExplorationProbability: constants.DefaultExplorationProbability,
			ImitationProbability:   constants.DefaultImitationProbability,
			PenaltyIncrement:       constants.DefaultPenaltyIncrement,
			MinimumExploration:     constants.DefaultMinimumExploration,
			DailyDecay:             constants.DefaultDailyDecay,
			IntervalDays:           constants.DefaultAdaptationIntervalDays,
			Phase:                  schedule.PolicyUpdate.String(),
			MaxDestinationStep:     constants.DefaultMaxDestinationStep,
			Objective:              fishery.ObjectiveCashFlow,
			ObjectiveWindow:        constants.DefaultObjectiveWindowDays,
		},
		Store: StoreConfig{
			Backend: string(constants.BackendSQLite),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from path, or from ~/.poseidon/config.yaml when
// path is empty, then applies environment variables.
// Order: defaults -> config file -> environment variables
func Load(path string) (*PoseidonConfig, error) {
	config := Default()

	homeDir, homeErr := os.UserHomeDir()
	if path == "" && homeErr == nil {
		if p := filepath.Join(homeDir, ".poseidon", "config.yaml"); fileExists(p) {
			path = p
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	if config.Store.Path == "" && homeErr == nil {
		config.Store.Path = filepath.Join(homeDir, ".poseidon")
	}
	return config, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*PoseidonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in the DSN
	config.Store.DSN = expandEnvVars(config.Store.DSN)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *PoseidonConfig) Validate() error {
	if c.Years <= 0 {
		return fmt.Errorf("years must be positive, got %d", c.Years)
	}

	a := c.Adaptation
	for name, p := range map[string]float64{
		"exploration_probability": a.ExplorationProbability,
		"imitation_probability":   a.ImitationProbability,
		"penalty_increment":       a.PenaltyIncrement,
		"minimum_exploration":     a.MinimumExploration,
		"daily_decay":             a.DailyDecay,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, p)
		}
	}
	if a.IntervalDays <= 0 {
		return fmt.Errorf("interval_days must be positive, got %d", a.IntervalDays)
	}
	if a.ObjectiveWindow <= 0 {
		return fmt.Errorf("objective_window must be positive, got %d", a.ObjectiveWindow)
	}
	if _, err := schedule.ParsePhase(a.Phase); err != nil {
		return fmt.Errorf("invalid adaptation phase: %w", err)
	}

	validPolicies := map[string]bool{fishery.PolicyFixed: true, fishery.PolicyExplorationPenalty: true, fishery.PolicyDailyDecreasing: true}
	if !validPolicies[a.Policy] {
		return fmt.Errorf("invalid policy: %s (valid: fixed, exploration_penalty, daily_decreasing)", a.Policy)
	}

	validObjectives := map[string]bool{fishery.ObjectiveCashFlow: true, fishery.ObjectiveKnifeEdge: true}
	if !validObjectives[a.Objective] {
		return fmt.Errorf("invalid objective: %s (valid: cash_flow, knife_edge)", a.Objective)
	}

	backend := constants.Backend(c.Store.Backend)
	if !backend.Valid() {
		return fmt.Errorf("invalid store backend: %s (valid: memory, sqlite, postgres)", c.Store.Backend)
	}
	if backend == constants.BackendPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store backend postgres requires a dsn")
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}

// Params converts the scenario and adaptation sections into fishery
// parameters. Call Validate first.
func (c *PoseidonConfig) Params() fishery.Params {
	s, a := c.Scenario, c.Adaptation
	phase, err := schedule.ParsePhase(a.Phase)
	if err != nil {
		phase = schedule.PolicyUpdate
	}
	return fishery.Params{
		Fishers:                s.Fishers,
		Patches:                s.Patches,
		ClosedPatches:          s.ClosedPatches,
		FriendsPerFisher:       s.FriendsPerFisher,
		Capacity:               s.Capacity,
		GrowthRate:             s.GrowthRate,
		Catchability:           s.Catchability,
		Price:                  s.Price,
		TravelCost:             s.TravelCost,
		TotalAllowableCatch:    s.TotalAllowableCatch,
		Objective:              a.Objective,
		ObjectiveWindow:        a.ObjectiveWindow,
		KnifeEdgeThreshold:     a.KnifeEdgeThreshold,
		Policy:                 a.Policy,
		ExplorationProbability: a.ExplorationProbability,
		ImitationProbability:   a.ImitationProbability,
		PenaltyIncrement:       a.PenaltyIncrement,
		MinimumExploration:     a.MinimumExploration,
		DailyDecay:             a.DailyDecay,
		MaxDestinationStep:     a.MaxDestinationStep,
		AdaptationIntervalDays: a.IntervalDays,
		AdaptationPhase:        phase,
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *PoseidonConfig) {
	if v := os.Getenv("POSEIDON_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Seed = n
		}
	}
	if v := os.Getenv("POSEIDON_YEARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Years = n
		}
	}
	if v := os.Getenv("POSEIDON_FISHERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scenario.Fishers = n
		}
	}

	if v := os.Getenv("POSEIDON_POLICY"); v != "" {
		config.Adaptation.Policy = v
	}
	if v := os.Getenv("POSEIDON_EXPLORATION_PROBABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Adaptation.ExplorationProbability = f
		}
	}
	if v := os.Getenv("POSEIDON_IMITATION_PROBABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Adaptation.ImitationProbability = f
		}
	}

	if v := os.Getenv("POSEIDON_STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("POSEIDON_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("POSEIDON_STORE_DSN"); v != "" {
		config.Store.DSN = v
	}

	if v := os.Getenv("POSEIDON_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("POSEIDON_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("POSEIDON_TRACING"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("POSEIDON_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}

	if v := os.Getenv("POSEIDON_S3_BUCKET"); v != "" {
		config.Export.S3.Bucket = v
	}
	if v := os.Getenv("POSEIDON_S3_ENDPOINT"); v != "" {
		config.Export.S3.Endpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && config.Export.S3.Region == "" {
		config.Export.S3.Region = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
