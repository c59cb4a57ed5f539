package commands

import (
	"fmt"

	"github.com/cnabflow/cnabflow/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample CNABFlow configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/cnabflow/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  cnabflow init

  # Initialize with custom path
  cnabflow init --config /etc/cnabflow/config.yaml

  # Force overwrite existing config
  cnabflow init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	// --config overrides the default XDG location.
	configPath := GetConfigFile()

	var err error
	if configPath == "" {
		configPath, err = config.InitConfig(initForce)
	} else {
		err = config.InitConfigToPath(configPath, initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to point at your Redis, database and object store")
	fmt.Println("  2. Start the server with: cnabflow start")
	fmt.Println("  3. Upload a CNAB file with: cnabflow upload transactions.txt")

	return nil
}
