package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cnabflow/cnabflow/internal/cli/output"
	"github.com/cnabflow/cnabflow/internal/cli/timeutil"
	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/pkg/apiclient"
	"github.com/cnabflow/cnabflow/pkg/config"
	"github.com/spf13/cobra"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// clientFlags holds the flag values shared by the REST client commands
// (upload, uploads, status, truncate).
var clientFlags = struct {
	ServerURL string
	Token     string
	Output    string
	NoColor   bool
}{}

// registerClientFlags adds the REST client flags to a command. Registered as
// persistent flags so command groups pass them down to their subcommands.
func registerClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&clientFlags.ServerURL, "server", "http://localhost:8080", "CNABFlow API base URL")
	cmd.PersistentFlags().StringVar(&clientFlags.Token, "token", "", "Bearer token forwarded to the API")
	cmd.PersistentFlags().StringVarP(&clientFlags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.PersistentFlags().BoolVar(&clientFlags.NoColor, "no-color", false, "Disable colored output")
}

// apiClient builds a REST client from the client flags.
func apiClient() *apiclient.Client {
	client := apiclient.New(clientFlags.ServerURL)
	if clientFlags.Token != "" {
		client = client.WithToken(clientFlags.Token)
	}
	return client
}

// outputFormat returns the parsed output format from the client flags.
func outputFormat() (output.Format, error) {
	return output.ParseFormat(clientFlags.Output)
}

// printOutput prints data in the selected format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses the
// tableRenderer.
func printOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// printSuccess prints a green success message when the output format is table.
// JSON and YAML output carry the full response instead, so the message would
// only corrupt the stream.
func printSuccess(msg string) {
	format, err := outputFormat()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !clientFlags.NoColor).Success(msg)
}

// printSuccessWithInfo prints a success message followed by plain detail
// lines, table format only.
func printSuccessWithInfo(msg string, infoLines ...string) {
	format, err := outputFormat()
	if err != nil || format != output.FormatTable {
		return
	}
	printer := output.NewPrinter(os.Stdout, format, !clientFlags.NoColor)
	printer.Success(msg)
	for _, line := range infoLines {
		fmt.Println(line)
	}
}

// printResourceWithSuccess prints data as JSON or YAML, or a success message
// for table output. For mutations the table reader wants confirmation, not a
// dump of the response.
func printResourceWithSuccess(w io.Writer, data any, successMsg string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		printSuccess(successMsg)
		return nil
	}
}

// emptyOr returns the value if not empty, otherwise the fallback.
// Useful for table display where empty fields should show "-".
func emptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// displayTime renders a timestamp for table output, "-" when unset.
func displayTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return timeutil.FormatLocal(*t)
}
