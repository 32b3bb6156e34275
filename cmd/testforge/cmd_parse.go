package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/diagnostics"
)

func newParseCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse [LOGFILE]",
		Short: "Parse build tool output into structured failures",
		Long:  "Reads captured test output from LOGFILE, or stdin when omitted or '-', and prints the diagnosed failures.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			failures := diagnostics.Parse(string(raw))
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(failures)
			}
			if len(failures) == 0 {
				fmt.Fprintln(out, "no failures found")
				return nil
			}
			for _, f := range failures {
				fmt.Fprintln(out, f.String())
				if f.RootCause != nil && f.RootCause.Fix != "" {
					fmt.Fprintf(out, "  fix: %s\n", f.RootCause.Fix)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print failures as JSON")
	return cmd
}
