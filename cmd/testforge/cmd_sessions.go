package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/framework"
	"github.com/lexcodex/testforge/persistence"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [SESSION_ID]",
		Short: "Inspect recorded repair sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Audit.SQLitePath == "" {
				return errors.New("audit.sqlite_path is not configured")
			}
			store, err := persistence.NewSQLiteAuditStore(cfg.Audit.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids, err := store.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}
			events, err := store.Query(cmd.Context(), framework.AuditQuery{SessionID: args[0]})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("session %s not found", args[0])
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}
	return cmd
}
