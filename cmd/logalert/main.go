package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"logalert/internal/app"
	"logalert/internal/clock"
	"logalert/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

// main runs the logalert command tree.
// Params: CLI args.
// Returns: exit code 1 on command failure, 2 on bad config source flags.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		var srcErr sourceError
		if errors.As(err, &srcErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type sourceError struct{ error }

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "logalert",
		Short:         "Alert condition evaluation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-file", "", "path to one TOML config file")
	rootCmd.PersistentFlags().String("config-dir", "", "path to directory with TOML config fragments")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start evaluating configured conditions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := sourceFromFlags(cmd)
			if err != nil {
				return err
			}
			service, err := app.NewService(source, clock.RealClock{})
			if err != nil {
				return fmt.Errorf("service init failed: %w", err)
			}
			if err := service.Run(context.Background()); err != nil {
				return fmt.Errorf("service run failed: %w", err)
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load config and build every condition without starting the service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := sourceFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadSnapshot(source)
			if err != nil {
				return err
			}
			if err := app.Validate(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d conditions, %d index sets\n", len(cfg.Condition), len(cfg.IndexSet))
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
	return rootCmd
}

func sourceFromFlags(cmd *cobra.Command) (config.ConfigSource, error) {
	configFile, _ := cmd.Flags().GetString("config-file")
	configDir, _ := cmd.Flags().GetString("config-dir")
	source, err := config.FromCLI(configFile, configDir)
	if err != nil {
		return config.ConfigSource{}, sourceError{err}
	}
	return source, nil
}
