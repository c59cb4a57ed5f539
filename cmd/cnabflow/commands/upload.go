package commands

import (
	"fmt"
	"os"

	"github.com/cnabflow/cnabflow/internal/cli/output"
	"github.com/cnabflow/cnabflow/pkg/apiclient"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a CNAB file for processing",
	Long: `Upload a CNAB transaction file to a running CNABFlow server.

The file is sent as a multipart upload. The server fingerprints the content,
rejects files it has already seen and processes accepted uploads
asynchronously; use 'cnabflow uploads status <id>' to follow progress.

Examples:
  # Upload a file to the local server
  cnabflow upload transactions.txt

  # Upload to a remote server
  cnabflow upload transactions.txt --server http://cnabflow.internal:8080

  # Print the intake response as JSON
  cnabflow upload transactions.txt -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	registerClientFlags(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	accepted, err := apiClient().UploadFile(filePath)
	if err != nil {
		if apiErr, ok := err.(*apiclient.APIError); ok {
			switch {
			case apiErr.IsDuplicate() && apiErr.ExistingUploadID != "":
				return fmt.Errorf("file already ingested as upload %s (check it with 'cnabflow uploads status %s')",
					apiErr.ExistingUploadID, apiErr.ExistingUploadID)
			case apiErr.IsUnavailable():
				return fmt.Errorf("server cannot accept uploads right now: %w", err)
			}
		}
		return fmt.Errorf("upload failed: %w", err)
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, accepted)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, accepted)
	default:
		info := []string{
			fmt.Sprintf("  File:   %s", accepted.FileName),
			fmt.Sprintf("  Status: %s", accepted.Status),
		}
		if accepted.TransactionCount != nil {
			info = append(info, fmt.Sprintf("  Transactions: %d", *accepted.TransactionCount))
		}
		printSuccessWithInfo("Upload accepted: "+accepted.UploadID, info...)
		return nil
	}
}
