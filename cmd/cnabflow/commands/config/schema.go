package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/cnabflow/cnabflow/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema describing the CNABFlow configuration file.

Point your editor at the schema for autocompletion and validation of
config.yaml, or feed it to documentation tooling.

Examples:
  # Print schema to stdout
  cnabflow config schema

  # Save schema to file
  cnabflow config schema --output config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := configSchema()
	if err != nil {
		return err
	}

	if schemaOutput == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
		return nil
	}

	if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
	return nil
}

// configSchema reflects the Config struct into an indented JSON schema
// document.
func configSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "CNABFlow Configuration"
	schema.Description = "Configuration schema for the CNABFlow server"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return schemaJSON, nil
}
