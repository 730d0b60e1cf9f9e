package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// ExitError ends the process with Code without logging an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackmgr",
		Short: "stackmgr - bundle catalog and task runner",
		Long: `stackmgr loads product bundles into a catalog of prototypes and runs
their actions as tasks.

Features:
  - Bundle archives validated against a YAML schema
  - Versioned catalog with upgrade paths and license tracking
  - Admission policies written in Rego
  - Tasks supervised job by job, with abort and restart
  - Job plugins that change object state`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newBundleCommand())
	rootCmd.AddCommand(newADCMCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newPluginCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
