package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/export"
)

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run to a compressed archive",
		Long: `Export a run with its observations and decisions to a gzip archive
carrying a SHA-256 checksum.

The target is a local directory, file://dir or s3://bucket/prefix. Without
--to the run is uploaded to the configured S3 bucket.

Examples:
  poseidon runs export <run-id> --to ./exports --keep 10
  poseidon runs export <run-id> --to s3://my-bucket/poseidon`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			target, _ := cmd.Flags().GetString("to")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			retention, err := retentionPolicy(keep, maxAge)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rs, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			sink, err := export.OpenSink(ctx, target, s3Options(cfg), retention)
			if err != nil {
				return err
			}
			location, header, err := export.Export(ctx, rs, args[0], sink)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"location":     location,
					"run_id":       header.RunID,
					"checksum":     header.Checksum,
					"observations": header.ObservationCount,
					"decisions":    header.DecisionCount,
				})
			}
			fmt.Fprintf(out, "Exported run %s to %s\n", header.RunID, location)
			fmt.Fprintf(out, "  Observations: %d\n", header.ObservationCount)
			fmt.Fprintf(out, "  Decisions:    %d\n", header.DecisionCount)
			fmt.Fprintf(out, "  Checksum:     %s\n", header.Checksum)
			return nil
		},
	}

	cmd.Flags().String("to", "", "Export target: directory, file://dir or s3://bucket/prefix")
	cmd.Flags().Int("keep", 0, "Keep at most this many archives in a directory target (0 keeps all)")
	cmd.Flags().String("max-age", "", "Delete directory archives older than this, e.g. 30d or 2w")
	return cmd
}

// retentionPolicy combines --keep and --max-age. It returns nil when neither
// is set.
func retentionPolicy(keep int, maxAge string) (export.RetentionPolicy, error) {
	var policies []export.RetentionPolicy
	if keep > 0 {
		policies = append(policies, &export.CountPolicy{MaxCount: keep})
	}
	if maxAge != "" {
		d, err := export.ParseDuration(maxAge)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-age: %w", err)
		}
		policies = append(policies, &export.AgePolicy{MaxAge: d})
	}
	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	default:
		return &export.CompositePolicy{Policies: policies}, nil
	}
}

func s3Options(cfg *config.PoseidonConfig) export.S3Options {
	s := cfg.Export.S3
	return export.S3Options{
		Bucket:       s.Bucket,
		Prefix:       s.Prefix,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.UsePathStyle,
	}
}

func newRunsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify an exported archive's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			header, err := export.VerifyFile(filePath)
			if err != nil {
				if jsonOut {
					json.NewEncoder(out).Encode(map[string]interface{}{
						"file":    filePath,
						"valid":   false,
						"error":   err.Error(),
						"message": "Checksum verification FAILED",
					})
				} else {
					fmt.Fprintf(out, "FAILED: %v\n", err)
					fmt.Fprintf(out, "  File: %s\n", filePath)
				}
				return fmt.Errorf("checksum verification failed")
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"file":    filePath,
					"version": header.Version,
					"run_id":  header.RunID,
					"valid":   true,
					"message": "Checksum OK",
				})
			}
			fmt.Fprintf(out, "OK: checksum verified\n")
			fmt.Fprintf(out, "  File:    %s\n", filePath)
			fmt.Fprintf(out, "  Run:     %s\n", header.RunID)
			fmt.Fprintf(out, "  Created: %s\n", header.CreatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

func newRunsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an exported archive into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			archive, header, err := export.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			if err := export.Restore(cmd.Context(), rs, archive); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run_id":       header.RunID,
					"observations": header.ObservationCount,
					"decisions":    header.DecisionCount,
				})
			}
			fmt.Fprintf(out, "Imported run %s (%d observations, %d decisions)\n",
				header.RunID, header.ObservationCount, header.DecisionCount)
			return nil
		},
	}
}
