package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cnabflow/cnabflow/internal/cli/output"
)

var (
	versionShort bool
	versionJSON  bool
)

// buildInfo is the version payload for --json output.
type buildInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Built    string `json:"built"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the cnabflow version, build information, and system details.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(Version)
			return nil
		}

		info := buildInfo{
			Version:  Version,
			Commit:   Commit,
			Built:    Date,
			Go:       runtime.Version(),
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
		}

		if versionJSON {
			return output.PrintJSON(os.Stdout, info)
		}

		fmt.Printf("cnabflow %s\n", info.Version)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.Built)
		fmt.Printf("  Go version: %s\n", info.Go)
		fmt.Printf("  OS/Arch:    %s\n", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version information as JSON")
}
