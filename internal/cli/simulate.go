package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"odds-oracle/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-forecast",
	Short: "模拟一次预测并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.HomeTeam == "" || simulateOpts.AwayTeam == "" {
			return errors.New("--home 与 --away 必须提供")
		}
		return getApp().SimulateForecast(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.HomeTeam, "home", "Boston Red Sox", "主队")
	simulateCmd.Flags().StringVar(&simulateOpts.AwayTeam, "away", "New York Yankees", "客队")
	simulateCmd.Flags().IntVar(&simulateOpts.Probability, "probability", 55, "主队获胜概率 (0-100)")
	simulateCmd.Flags().StringVar(&simulateOpts.Likelihood, "likelihood", "likely", "概率描述")
}
