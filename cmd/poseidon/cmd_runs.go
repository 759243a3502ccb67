package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect, export and import stored runs",
		Long: `Inspect stored simulation runs.

Examples:
  poseidon runs list
  poseidon runs show <run-id>
  poseidon runs series <run-id> --column Biomass
  poseidon runs export <run-id> --to s3://my-bucket/poseidon
  poseidon runs verify ./exports/poseidon-run-<id>-20260101-120000.json.gz`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsSeriesCmd(),
		newRunsExportCmd(),
		newRunsVerifyCmd(),
		newRunsImportCmd(),
	)
	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			runs, err := rs.ListRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			total := len(runs)
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				type jsonRun struct {
					ID         string `json:"id"`
					Seed       int64  `json:"seed"`
					Years      int    `json:"years"`
					Fishers    int    `json:"fishers"`
					Status     string `json:"status"`
					StartedAt  string `json:"started_at"`
					FinishedAt string `json:"finished_at,omitempty"`
				}
				entries := make([]jsonRun, 0, len(runs))
				for _, r := range runs {
					e := jsonRun{
						ID:        r.ID,
						Seed:      r.Seed,
						Years:     r.Years,
						Fishers:   r.Fishers,
						Status:    r.Status,
						StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
					}
					if r.FinishedAt != nil {
						e.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
					}
					entries = append(entries, e)
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":        entries,
					"count":       len(entries),
					"total_count": total,
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "  %s  %-8s  seed %-6d  %d years  %d fishers  %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.Status, r.Seed, r.Years, r.Fishers, r.ID)
			}
			fmt.Fprintf(out, "Showing %d of %d runs\n", len(runs), total)
			return nil
		},
	}

	cmd.Flags().Int("limit", 0, "Maximum number of runs to show (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its configuration and decision summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			run, err := rs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run %s: %w", args[0], err)
			}
			decisions, err := rs.Decisions(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("failed to load decisions: %w", err)
			}
			byStatus := map[string]int{}
			for _, d := range decisions {
				byStatus[d.Status]++
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run":                 run,
					"decisions":           len(decisions),
					"decisions_by_status": byStatus,
				})
			}

			fmt.Fprintf(out, "Run %s\n", run.ID)
			fmt.Fprintf(out, "  Status:    %s\n", run.Status)
			fmt.Fprintf(out, "  Seed:      %d\n", run.Seed)
			fmt.Fprintf(out, "  Years:     %d\n", run.Years)
			fmt.Fprintf(out, "  Fishers:   %d\n", run.Fishers)
			fmt.Fprintf(out, "  Started:   %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if run.FinishedAt != nil {
				fmt.Fprintf(out, "  Finished:  %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(out, "  Decisions: %d (exploiting %d, exploring %d, imitating %d)\n",
				len(decisions), byStatus["exploiting"], byStatus["exploring"], byStatus["imitating"])
			if run.Config != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Configuration:")
				fmt.Fprint(out, run.Config)
			}
			return nil
		},
	}
}

func newRunsSeriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series <run-id>",
		Short: "Print a run's daily or yearly time series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			yearly, _ := cmd.Flags().GetBool("yearly")
			column, _ := cmd.Flags().GetString("column")

			series := constants.SeriesDaily
			if yearly {
				series = constants.SeriesYearly
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

			if _, err := rs.GetRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to get run %s: %w", args[0], err)
			}
			obs, err := rs.Observations(cmd.Context(), args[0], series)
			if err != nil {
				return fmt.Errorf("failed to load observations: %w", err)
			}
			obs = filterColumn(obs, column)

			out := cmd.OutOrStdout()
			if jsonOut {
				type point struct {
					Step   int      `json:"step"`
					Column string   `json:"column"`
					Value  *float64 `json:"value"`
				}
				points := make([]point, 0, len(obs))
				for _, o := range obs {
					p := point{Step: o.Step, Column: o.Column}
					if !math.IsNaN(o.Value) && !math.IsInf(o.Value, 0) {
						v := o.Value
						p.Value = &v
					}
					points = append(points, p)
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run_id": args[0],
					"series": series,
					"points": points,
					"count":  len(points),
				})
			}

			fmt.Fprintln(out, "step\tcolumn\tvalue")
			for _, o := range obs {
				fmt.Fprintf(out, "%d\t%s\t%g\n", o.Step, o.Column, o.Value)
			}
			return nil
		},
	}

	cmd.Flags().Bool("yearly", false, "Show the yearly series instead of the daily one")
	cmd.Flags().String("column", "", "Only show this column, e.g. Biomass")
	return cmd
}

func filterColumn(obs []store.Observation, column string) []store.Observation {
	if column == "" {
		return obs
	}
	filtered := obs[:0:0]
	for _, o := range obs {
		if o.Column == column {
			filtered = append(filtered, o)
		}
	}
	return filtered
}
