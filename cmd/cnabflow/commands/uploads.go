package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cnabflow/cnabflow/internal/bytesize"
	"github.com/cnabflow/cnabflow/internal/cli/output"
	"github.com/cnabflow/cnabflow/pkg/apiclient"
	"github.com/spf13/cobra"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Inspect and manage uploads",
	Long: `Inspect uploads on a running CNABFlow server and re-enqueue the ones
that got stuck mid-processing.`,
}

func init() {
	registerClientFlags(uploadsCmd)
	uploadsCmd.AddCommand(uploadsListCmd)
	uploadsCmd.AddCommand(uploadsStatusCmd)
	uploadsCmd.AddCommand(uploadsResumeCmd)
}

// UploadList is a list of uploads for table rendering.
type UploadList []apiclient.Upload

// Headers implements TableRenderer.
func (ul UploadList) Headers() []string {
	return []string{"ID", "FILE", "STATUS", "LINES", "FAILED", "UPLOADED"}
}

// Rows implements TableRenderer.
func (ul UploadList) Rows() [][]string {
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		accounted := u.ProcessedLineCount + u.FailedLineCount + u.SkippedLineCount
		rows = append(rows, []string{
			u.ID,
			u.FileName,
			u.Status,
			fmt.Sprintf("%d/%d", accounted, u.TotalLineCount),
			strconv.FormatInt(u.FailedLineCount, 10),
			u.UploadedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

var (
	listPage           int
	listPageSize       int
	listStatus         string
	listIncomplete     bool
	listTimeoutMinutes int
)

var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploads",
	Long: `List uploads known to the server, newest first.

Examples:
  # List the most recent uploads
  cnabflow uploads list

  # Only failed uploads, second page
  cnabflow uploads list --status failed --page 2

  # Uploads stuck for more than 10 minutes
  cnabflow uploads list --incomplete --timeout-minutes 10

  # List as JSON
  cnabflow uploads list -o json`,
	RunE: runUploadsList,
}

func init() {
	uploadsListCmd.Flags().IntVar(&listPage, "page", 0, "Page number (default: first page)")
	uploadsListCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Items per page (default: server default)")
	uploadsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|processing|success|partial_success|failed)")
	uploadsListCmd.Flags().BoolVar(&listIncomplete, "incomplete", false, "Show only incomplete uploads (pending, processing, or underaccounted)")
	uploadsListCmd.Flags().IntVar(&listTimeoutMinutes, "timeout-minutes", 0, "With --incomplete: how long without progress counts as stuck (default: server default)")
}

func runUploadsList(cmd *cobra.Command, args []string) error {
	client := apiClient()

	if listIncomplete {
		uploads, err := client.IncompleteUploads(listTimeoutMinutes)
		if err != nil {
			return fmt.Errorf("failed to list incomplete uploads: %w", err)
		}
		return printOutput(os.Stdout, uploads, len(uploads) == 0, "No incomplete uploads.", UploadList(uploads))
	}

	paged, err := client.ListUploads(listPage, listPageSize, listStatus)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}

	if err := printOutput(os.Stdout, paged, len(paged.Items) == 0, "No uploads found.", UploadList(paged.Items)); err != nil {
		return err
	}

	// Paging footer, table output only
	if format, err := outputFormat(); err == nil && format == output.FormatTable && len(paged.Items) > 0 {
		fmt.Printf("\nPage %d of %d (%d uploads)\n", paged.Page, paged.TotalPages, paged.TotalCount)
	}
	return nil
}

var uploadsStatusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Show upload details",
	Long: `Show the full processing state of one upload: status, line accounting,
checkpoint position and timestamps.

Examples:
  cnabflow uploads status 249c5108-3a21-4465-9b0e-6f2d1c0b7a6e
  cnabflow uploads status 249c5108-3a21-4465-9b0e-6f2d1c0b7a6e -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runUploadsStatus,
}

func runUploadsStatus(cmd *cobra.Command, args []string) error {
	upload, err := apiClient().GetUpload(args[0])
	if err != nil {
		if apiErr, ok := err.(*apiclient.APIError); ok && apiErr.IsNotFound() {
			return fmt.Errorf("no upload with id %s", args[0])
		}
		return fmt.Errorf("failed to get upload: %w", err)
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, upload)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, upload)
	default:
		return output.SimpleTable(os.Stdout, [][2]string{
			{"ID", upload.ID},
			{"File", upload.FileName},
			{"Size", bytesize.ByteSize(upload.FileSize).String()},
			{"Hash", upload.FileHash},
			{"Status", upload.Status},
			{"Total lines", strconv.FormatInt(upload.TotalLineCount, 10)},
			{"Processed", strconv.FormatInt(upload.ProcessedLineCount, 10)},
			{"Failed", strconv.FormatInt(upload.FailedLineCount, 10)},
			{"Skipped", strconv.FormatInt(upload.SkippedLineCount, 10)},
			{"Checkpoint line", strconv.FormatInt(upload.LastCheckpointLine, 10)},
			{"Retries", strconv.Itoa(upload.RetryCount)},
			{"Error", emptyOr(upload.ErrorMessage, "-")},
			{"Uploaded", displayTime(&upload.UploadedAt)},
			{"Started", displayTime(upload.ProcessingStartedAt)},
			{"Completed", displayTime(upload.ProcessingCompletedAt)},
			{"Last checkpoint", displayTime(upload.LastCheckpointAt)},
		})
	}
}

var (
	resumeAll            bool
	resumeTimeoutMinutes int
)

var uploadsResumeCmd = &cobra.Command{
	Use:   "resume [upload-id]",
	Short: "Re-enqueue stuck uploads",
	Long: `Re-enqueue uploads that stopped making progress so a worker picks them
up again from their last checkpoint.

With an upload id, that single upload is re-enqueued if it is incomplete.
With --all, the server sweeps for every upload stuck longer than
--timeout-minutes and re-enqueues each one.

Examples:
  # Resume one upload
  cnabflow uploads resume 249c5108-3a21-4465-9b0e-6f2d1c0b7a6e

  # Resume everything stuck for more than 10 minutes
  cnabflow uploads resume --all --timeout-minutes 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUploadsResume,
}

func init() {
	uploadsResumeCmd.Flags().BoolVar(&resumeAll, "all", false, "Sweep and re-enqueue every stuck upload")
	uploadsResumeCmd.Flags().IntVar(&resumeTimeoutMinutes, "timeout-minutes", 0, "With --all: how long without progress counts as stuck (default: server default)")
}

// sweepList renders resume --all results as a table.
type sweepList []apiclient.SweepEntry

// Headers implements TableRenderer.
func (sl sweepList) Headers() []string {
	return []string{"UPLOAD ID", "REQUEUED", "REASON"}
}

// Rows implements TableRenderer.
func (sl sweepList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, e := range sl {
		requeued := "no"
		if e.Requeued {
			requeued = "yes"
		}
		rows = append(rows, []string{e.UploadID, requeued, emptyOr(e.Reason, "-")})
	}
	return rows
}

func runUploadsResume(cmd *cobra.Command, args []string) error {
	client := apiClient()

	if resumeAll {
		if len(args) > 0 {
			return errors.New("provide an upload id or --all, not both")
		}
		result, err := client.ResumeAllUploads(resumeTimeoutMinutes)
		if err != nil {
			return fmt.Errorf("failed to resume uploads: %w", err)
		}
		if err := printOutput(os.Stdout, result, len(result.Results) == 0, "No stuck uploads.", sweepList(result.Results)); err != nil {
			return err
		}
		if format, err := outputFormat(); err == nil && format == output.FormatTable && len(result.Results) > 0 {
			fmt.Printf("\nRequeued %d of %d\n", result.Requeued, len(result.Results))
		}
		return nil
	}

	if len(args) != 1 {
		return errors.New("provide an upload id or --all")
	}

	result, err := client.ResumeUpload(args[0])
	if err != nil {
		return fmt.Errorf("failed to resume upload: %w", err)
	}

	return printResourceWithSuccess(os.Stdout, result,
		fmt.Sprintf("Upload %s re-enqueued (message %s)", result.UploadID, result.MessageID))
}
