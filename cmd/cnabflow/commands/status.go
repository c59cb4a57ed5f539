package commands

import (
	"fmt"
	"os"

	"github.com/cnabflow/cnabflow/internal/cli/output"
	"github.com/cnabflow/cnabflow/internal/cli/timeutil"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of a running CNABFlow server.

This command checks the server readiness endpoint and displays overall
status, uptime and the health of each backing service (database, Redis).

Examples:
  # Check the local server
  cnabflow status

  # Check a remote server
  cnabflow status --server http://cnabflow.internal:8080

  # Output as JSON
  cnabflow status -o json`,
	RunE: runStatus,
}

func init() {
	registerClientFlags(statusCmd)
}

// serverStatus flattens the health envelopes for display.
type serverStatus struct {
	Server    string            `json:"server" yaml:"server"`
	Status    string            `json:"status" yaml:"status"`
	Healthy   bool              `json:"healthy" yaml:"healthy"`
	Service   string            `json:"service,omitempty" yaml:"service,omitempty"`
	StartedAt string            `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string            `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Checks    []dependencyCheck `json:"checks,omitempty" yaml:"checks,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type dependencyCheck struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := apiClient()

	status := serverStatus{
		Server:  clientFlags.ServerURL,
		Status:  "unreachable",
		Healthy: false,
	}

	// Liveness carries service identity and uptime, readiness the
	// per-dependency checks. A refused connection leaves "unreachable".
	if live, err := client.Health(); err != nil {
		status.Error = err.Error()
	} else {
		status.Status = live.Status
		status.Healthy = live.Healthy()
		status.Service = live.Data.Service
		status.StartedAt = live.Data.StartedAt
		status.Uptime = live.Data.Uptime

		if ready, err := client.Ready(); err == nil {
			status.Status = ready.Status
			status.Healthy = ready.Healthy()
			for _, c := range ready.Data.Checks {
				status.Checks = append(status.Checks, dependencyCheck{
					Name:    c.Name,
					Status:  c.Status,
					Latency: c.Latency,
					Error:   c.Error,
				})
			}
		}
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status serverStatus) {
	useColor := !clientFlags.NoColor

	fmt.Println()
	fmt.Println("CNABFlow Server Status")
	fmt.Println("======================")
	fmt.Println()
	fmt.Printf("  Server:     %s\n", status.Server)
	fmt.Printf("  Status:     %s\n", output.StatusDot(status.Status, useColor))

	if status.Service != "" {
		fmt.Printf("  Service:    %s\n", status.Service)
	}
	if status.StartedAt != "" {
		fmt.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
	}
	if status.Uptime != "" {
		fmt.Printf("  Uptime:     %s\n", timeutil.FormatUptime(status.Uptime))
	}
	if status.Error != "" {
		fmt.Printf("  Error:      %s\n", status.Error)
	}

	// ANSI codes would throw off the column widths, so the table keeps the
	// status words plain.
	if len(status.Checks) > 0 {
		fmt.Println()
		deps := output.NewTableData("DEPENDENCY", "STATUS", "LATENCY", "ERROR")
		for _, c := range status.Checks {
			deps.AddRow(c.Name, c.Status, emptyOr(c.Latency, "-"), emptyOr(c.Error, "-"))
		}
		_ = output.PrintTable(os.Stdout, deps)
	}
	fmt.Println()
}
