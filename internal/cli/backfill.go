package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"odds-oracle/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay result files into the PostgreSQL mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" {
			return fmt.Errorf("--from must be provided")
		}

		opts := app.BackfillOptions{
			From:   backfillFrom,
			To:     backfillTo,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD, inclusive, defaults to --from)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Count records without writing to storage")
}
