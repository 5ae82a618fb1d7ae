package cli

import (
	"github.com/spf13/cobra"

	"steam-price-reporter/internal/app"
)

var (
	reportItems  []string
	reportDryRun bool
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Record one price sample for every tracked item now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sample(cmd.Context())
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build and send the weekly report now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), app.ReportOptions{
			Items:  reportItems,
			DryRun: reportDryRun,
		})
	},
}

func init() {
	reportCmd.Flags().StringSliceVar(&reportItems, "item", nil, "Report only these items (repeatable, defaults to all tracked items)")
	reportCmd.Flags().BoolVar(&reportDryRun, "dry-run", false, "Print the caption instead of sending it and keep baselines unchanged")
}
