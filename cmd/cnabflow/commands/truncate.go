package commands

import (
	"fmt"
	"os"

	"github.com/cnabflow/cnabflow/internal/cli/prompt"
	"github.com/spf13/cobra"
)

var truncateForce bool

var truncateCmd = &cobra.Command{
	Use:   "truncate",
	Short: "Delete all processed transactions",
	Long: `Delete every transaction record on the server.

Upload rows and their line-hash ledgers survive, so re-uploading a file the
server has already seen is still rejected as a duplicate. This is meant for
resetting test and staging environments between runs.

Examples:
  # Interactive confirmation
  cnabflow truncate

  # Skip the confirmation (scripts, CI)
  cnabflow truncate --force`,
	RunE: runTruncate,
}

func init() {
	registerClientFlags(truncateCmd)
	truncateCmd.Flags().BoolVar(&truncateForce, "force", false, "Skip confirmation prompt")
}

func runTruncate(cmd *cobra.Command, args []string) error {
	confirmed, err := prompt.ConfirmWithForce("Delete ALL transactions?", truncateForce)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	result, err := apiClient().ClearTransactions()
	if err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}

	return printResourceWithSuccess(os.Stdout, result,
		fmt.Sprintf("Deleted %d transactions", result.Deleted))
}
