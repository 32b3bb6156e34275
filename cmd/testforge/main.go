package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/framework"
)

var (
	flagProject string
	flagConfig  string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "testforge",
		Short:         "Drive generated tests to a passing state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagProject, "project", envOrDefault("TESTFORGE_PROJECT", "."), "Project root containing the modules under test")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default <project>/testforge_cfg/config.yaml)")

	root.AddCommand(newRepairCmd(), newParseCmd(), newModulesCmd(), newSessionsCmd(), newInitCmd(), newDoctorCmd())
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func projectRoot() (string, error) {
	return filepath.Abs(flagProject)
}

func configPath(project string) string {
	if flagConfig != "" {
		return flagConfig
	}
	return framework.DefaultConfigPath(project)
}

func loadConfig() (string, *framework.Config, error) {
	project, err := projectRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := framework.LoadConfig(configPath(project), project)
	if err != nil {
		return "", nil, fmt.Errorf("load config: %w", err)
	}
	return project, cfg, nil
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file into the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectRoot()
			if err != nil {
				return err
			}
			path := configPath(project)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := framework.DefaultConfig()
			cfg.Audit.SQLitePath = filepath.Join(framework.ConfigDir(project), "audit.db")
			cfg.Logging.File = filepath.Join(framework.ConfigDir(project), "logs", "testforge.log")
			if err := framework.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
