package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/modules"
)

func newModulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the modules discovered under the project root",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectRoot()
			if err != nil {
				return err
			}
			found, err := modules.Scan(cmd.Context(), project, modules.MavenLayout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(found)
			}
			for _, m := range found {
				rel, err := filepath.Rel(project, m.Root)
				if err != nil {
					rel = m.Root
				}
				testRoot := "-"
				if m.HasTestRoot() {
					testRoot = "yes"
				}
				fmt.Fprintf(out, "%-30s %-40s tests:%s packages:%d\n", m.Name, rel, testRoot, len(m.Packages))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print modules as JSON")
	return cmd
}
