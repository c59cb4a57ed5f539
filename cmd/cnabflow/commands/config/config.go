// Package config implements the config subcommand tree.
package config

import "github.com/spf13/cobra"

// Cmd groups the configuration inspection commands. File creation lives on
// the root command as 'cnabflow init'.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect the CNABFlow configuration.

'config show' prints the effective configuration after defaults, file values
and CNABFLOW_* environment overrides are merged. 'config schema' emits a JSON
schema for editor completion and validation.`,
}

func init() {
	Cmd.AddCommand(showCmd, schemaCmd)
}
