package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/logging"
	"github.com/nvandessel/poseidon/internal/metrics"
	"github.com/nvandessel/poseidon/internal/simulation"
	"github.com/nvandessel/poseidon/internal/tracing"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a fishery simulation and store the results",
		Long: `Run one simulation with the configured scenario and adaptation policy.

The run, its daily and yearly observations and every adaptation decision are
written to the configured store.

Examples:
  poseidon run
  poseidon run --years 10 --seed 42
  poseidon run --policy exploration_penalty --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rs, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			collector := metrics.NewCollector()
			if cfg.Metrics.Addr != "" {
				shutdown := serveMetrics(cfg.Metrics.Addr, collector, logger)
				defer shutdown()
			}

			tp, shutdownTracing, err := initTracing(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdownTracing()

			decisions := logging.NewDecisionLogger(cfg.Store.Path, cfg.Logging.Level)
			defer decisions.Close()

			runner, err := simulation.NewRunner(simulation.Options{
				Config:    cfg,
				Store:     rs,
				Logger:    logger,
				Decisions: decisions,
				Metrics:   collector,
				Tracer:    tp,
			})
			if err != nil {
				return err
			}
			result, err := runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(result)
			}
			printResult(out, result)
			return nil
		},
	}

	cmd.Flags().Int("years", 0, "Simulated years (overrides config)")
	cmd.Flags().Int64("seed", 0, "Random seed (overrides config)")
	cmd.Flags().Int("fishers", 0, "Number of fishers (overrides config)")
	cmd.Flags().String("policy", "", "Exploration policy: fixed, exploration_penalty or daily_decreasing")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().Bool("trace", false, "Export OpenTelemetry spans")

	return cmd
}

// applyRunFlags copies explicitly set run flags into cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.PoseidonConfig) error {
	flags := cmd.Flags()
	if flags.Changed("years") {
		cfg.Years, _ = flags.GetInt("years")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("fishers") {
		n, _ := flags.GetInt("fishers")
		if n <= 0 {
			return fmt.Errorf("--fishers must be positive, got %d", n)
		}
		cfg.Scenario.Fishers = n
	}
	if flags.Changed("policy") {
		cfg.Adaptation.Policy, _ = flags.GetString("policy")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("trace") {
		cfg.Tracing.Enabled, _ = flags.GetBool("trace")
	}
	return nil
}

// serveMetrics exposes collector on addr until the returned func is called.
func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// initTracing sets up span export to cfg.Tracing.Output, or stderr.
func initTracing(ctx context.Context, cfg *config.PoseidonConfig, stderr io.Writer) (_ trace.TracerProvider, shutdown func(), _ error) {
	w := stderr
	var file *os.File
	if cfg.Tracing.Enabled && cfg.Tracing.Output != "" {
		f, err := os.OpenFile(cfg.Tracing.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		file = f
		w = f
	}
	tp, stop, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "poseidon",
		ServiceVersion: version,
		Enabled:        cfg.Tracing.Enabled,
		Writer:         w,
	})
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	return tp, func() {
		stop(context.WithoutCancel(ctx))
		if file != nil {
			file.Close()
		}
	}, nil
}

func printResult(w io.Writer, r *simulation.Result) {
	fmt.Fprintf(w, "Run %s completed\n", r.RunID)
	fmt.Fprintf(w, "  Seed:          %d\n", r.Seed)
	fmt.Fprintf(w, "  Years:         %d (%d steps)\n", r.Years, r.Steps)
	fmt.Fprintf(w, "  Fishers:       %d\n", r.Fishers)
	fmt.Fprintf(w, "  Final biomass: %.1f kg\n", r.FinalBiomass)
	fmt.Fprintf(w, "  Average cash:  %.2f\n", r.FinalAverageCash)
	for i, l := range r.YearlyLandings {
		fmt.Fprintf(w, "  Year %d landings: %.1f kg\n", i+1, l)
	}
	fmt.Fprintf(w, "  Decisions:     %d (exploiting %d, exploring %d, imitating %d)\n",
		r.Decisions, r.DecisionsByStatus["exploiting"], r.DecisionsByStatus["exploring"], r.DecisionsByStatus["imitating"])
	fmt.Fprintf(w, "  Duration:      %s\n", r.Duration.Round(time.Millisecond))
}
