package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/poseidon/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve simulation tools over the Model Context Protocol (stdio)",
		Long: `Start an MCP server on stdin/stdout exposing the poseidon_simulate,
poseidon_runs, poseidon_series and poseidon_export tools.

Tool calls are recorded in audit.jsonl under the store path, and
poseidon_export writes archives to its exports/ subdirectory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			rs, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			var exportDir string
			if cfg.Store.Path != "" {
				exportDir = filepath.Join(cfg.Store.Path, "exports")
			}
			server, err := mcp.NewServer(&mcp.Config{
				Name:      "poseidon",
				Version:   version,
				Base:      cfg,
				Store:     rs,
				AuditDir:  cfg.Store.Path,
				ExportDir: exportDir,
				Logger:    logger,
			})
			if err != nil {
				rs.Close()
				return err
			}
			logger.Info("mcp server starting", "version", version, "backend", cfg.Store.Backend)
			return server.Run(cmd.Context())
		},
	}
}
