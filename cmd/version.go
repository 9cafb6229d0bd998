package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

var (
	build       = BuildInfo{Version: "dev", Commit: "none", Date: "unknown"}
	versionJSON bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			return json.NewEncoder(ui.Out).Encode(build)
		}
		fmt.Fprintf(ui.Out, "crm %s (commit %s, built %s)\n", build.Version, build.Commit, build.Date)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(versionCmd)
}
