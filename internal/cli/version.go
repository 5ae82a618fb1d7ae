package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"steam-price-reporter/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n", cmd.Root().Name(), version.Version, version.Commit, version.BuildDate)
	},
}
