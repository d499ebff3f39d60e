package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"odds-oracle/internal/app"
)

var (
	showDay    string
	showLimit  int
	showFromDB bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recorded predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Day:    showDay,
			Limit:  showLimit,
			FromDB: showFromDB,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showDay, "day", "", "Day to display (YYYY-MM-DD, defaults to the latest day)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of predictions to display")
	showCmd.Flags().BoolVar(&showFromDB, "db", false, "Read from the PostgreSQL mirror instead of the result files")
}
