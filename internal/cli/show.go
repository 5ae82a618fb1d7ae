package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"steam-price-reporter/internal/app"
)

var (
	showItem  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Item:  showItem,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showItem, "item", "", "Item to display (defaults to all tracked items)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples to display per item")
}
