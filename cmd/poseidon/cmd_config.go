package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect poseidon configuration",
		Long: `Inspect the effective poseidon configuration.

Configuration is read from ~/.poseidon/config.yaml (or --config) and then
overridden by POSEIDON_* environment variables.

Examples:
  poseidon config show
  poseidon config validate --config ./scenario.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Redact the DSN before serialization to prevent leakage
			redacted := *cfg
			redacted.Store.DSN = cfg.Store.RedactedDSN()

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(redacted)
			}
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			verr := cfg.Validate()

			out := cmd.OutOrStdout()
			if jsonOut {
				result := map[string]interface{}{"valid": verr == nil}
				if verr != nil {
					result["error"] = verr.Error()
				}
				if err := json.NewEncoder(out).Encode(result); err != nil {
					return err
				}
			} else if verr == nil {
				fmt.Fprintln(out, "Configuration is valid")
			}
			if verr != nil {
				return fmt.Errorf("invalid configuration: %w", verr)
			}
			return nil
		},
	}
}
