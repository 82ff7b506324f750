package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "telemetry",
		Short:         "Metric collection, error tracking and alerting engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults and TELEMETRY_* env when empty)")

	rootCmd.AddCommand(
		NewServeCommand(&configFile),
		NewRecentCommand(&configFile),
		NewErrorsCommand(&configFile),
		NewCleanupCommand(&configFile),
		NewVersionCommand(),
	)

	return rootCmd
}
