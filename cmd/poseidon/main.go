package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/logging"
	"github.com/nvandessel/poseidon/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poseidon",
		Short: "Poseidon - agent-based fishery simulation",
		Long: `poseidon simulates a fishery where fishers learn where to fish by
exploring new patches and imitating their friends.

Runs are stored with their daily and yearly observations so they can be
inspected, exported and compared later.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.poseidon/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "poseidon version %s\n", version)
			}
		},
	}
}

// loadConfig loads the configuration named by --config and applies the
// global flag overrides. It does not validate.
func loadConfig(cmd *cobra.Command) (*config.PoseidonConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w so stdout stays
// free for command output and the MCP transport.
func newLogger(cfg *config.PoseidonConfig, w io.Writer) *slog.Logger {
	if cfg.Logging.Format == "json" {
		return logging.NewJSONLogger(cfg.Logging.Level, w)
	}
	return logging.NewLogger(cfg.Logging.Level, w)
}

// openStore opens the run store configured in cfg.
func openStore(ctx context.Context, cfg *config.PoseidonConfig) (store.RunStore, error) {
	backend := constants.Backend(cfg.Store.Backend)
	target := cfg.Store.Path
	if backend == constants.BackendPostgres {
		target = cfg.Store.DSN
	}
	rs, err := store.Open(ctx, backend, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return rs, nil
}

// signalContext returns a context cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
