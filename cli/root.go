// Package cli assembles the dagrun command tree. Commands load YAML
// definitions from a directory, validate them, plan their execution and
// run workflows in-process.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/pkg/config"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/version"
)

// RootCmd builds the dagrun root command.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dagrun",
		Short: "Declarative workflow engine",
		Long: "dagrun loads workflow and task definitions, compiles their dependency\n" +
			"graph and executes them with retries, circuit breakers, caching and\n" +
			"fallbacks.",
		Version:           version.GetVersion(),
		SilenceUsage:      true,
		PersistentPreRunE: setupGlobalConfig,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "Annotate logs with their source position")
	root.PersistentFlags().StringP("output", "o", "", "Output format (json, yaml)")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	root.PersistentFlags().BoolP("quiet", "q", false, "Suppress status lines, print documents only")

	root.AddCommand(
		ExecuteCmd(),
		ValidateCmd(),
		PlanCmd(),
		SchemaCmd(),
		ConfigCmd(),
	)

	return root
}

// setupGlobalConfig loads the effective configuration, applies output and
// logging flags on top and injects the config manager into the command
// context for every subcommand.
func setupGlobalConfig(cmd *cobra.Command, _ []string) error {
	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := applyOutputFlags(cmd, cfg); err != nil {
		return err
	}

	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.Runtime.LogLevel
	}
	logger.SetupLogger(logLevel, logJSON, logSource)

	cmd.SetContext(config.ContextWithManager(cmd.Context(), manager))
	return nil
}

func applyOutputFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("output") {
		format, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		if format != config.FormatJSON && format != config.FormatYAML {
			return fmt.Errorf("unsupported output format %q (expected json or yaml)", format)
		}
		cfg.CLI.Format = format
	}
	if noColor, err := cmd.Flags().GetBool("no-color"); err == nil && noColor {
		cfg.CLI.Color = false
	}
	if quiet, err := cmd.Flags().GetBool("quiet"); err == nil && quiet {
		cfg.CLI.Quiet = true
	}
	return nil
}
