// Package commands implements the CLI commands for the cnabflow service.
package commands

import (
	"github.com/cnabflow/cnabflow/cmd/cnabflow/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cnabflow",
	Short: "CNABFlow - CNAB transaction file processing service",
	Long: `CNABFlow ingests CNAB fixed-width transaction files, parses them line by
line and stores the resulting bank transactions. Files are accepted over a
REST API, staged in S3-compatible object storage and processed asynchronously
by queue workers with checkpointed, exactly-once line accounting.

The same binary runs the server (start, migrate, logs) and acts as a REST
client for a running instance (upload, uploads, status, truncate).

Use "cnabflow [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cnabflow/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(uploadsCmd)
	rootCmd.AddCommand(truncateCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
