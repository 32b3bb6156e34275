package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/cmd/internal/setup"
)

func newDoctorCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the build tool and reasoning engine are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := setup.Detector{}.Detect(cmd.Context(), project, cfg)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, tool := range report.BuildTools {
					state := "missing"
					switch {
					case tool.Available:
						state = tool.CommandPath
					case tool.Wrapper != "":
						state = tool.Wrapper
					}
					fmt.Fprintf(out, "%-8s %s (project: %v)\n", tool.ID, state, tool.InProject)
				}
				engine := report.Engine
				fmt.Fprintf(out, "engine   %s %s reachable=%v model=%s present=%v\n", engine.Provider, engine.Endpoint, engine.Reachable, engine.SelectedModel, engine.HasModel)
				if engine.LastError != "" {
					fmt.Fprintf(out, "         error: %s\n", engine.LastError)
				}
			}
			if !report.Ready() {
				return fmt.Errorf("environment not ready")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
