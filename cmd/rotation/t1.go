package main

import (
	"github.com/spf13/cobra"
)

func newRunT1Cmd() *cobra.Command {
	var tradeDate, prevTradeDate string

	cmd := &cobra.Command{
		Use:   "run-t1",
		Short: "act on the prior EOD outcome: suggest executions and update positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()
			return eng.RunT1(cmd.Context(), tradeDate, prevTradeDate)
		},
	}

	cmd.Flags().StringVar(&tradeDate, "trade-date", "", "trade date YYYY-MM-DD")
	cmd.Flags().StringVar(&prevTradeDate, "prev-trade-date", "",
		"act on the snapshots written exactly on this date (default: latest before trade-date)")
	cmd.MarkFlagRequired("trade-date")
	return cmd
}
