// Package commands implements the idevicerestore CLI's cobra commands.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "idevicerestore",
	Short: "Drive a firmware restore session against a device in restore mode",
	Long: `idevicerestore orchestrates a firmware restore session: it opens the
device's restore connection, answers the restore daemon's data requests by
extracting and personalizing components from an IPSW archive, and drives
the session to completion while tracking progress and status.

Use "idevicerestore [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/idevicerestore/config.yaml)")

	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}
