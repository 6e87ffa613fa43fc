package main

import (
	"github.com/spf13/cobra"
)

func newRunEODCmd() *cobra.Command {
	var tradeDate string

	cmd := &cobra.Command{
		Use:   "run-eod",
		Short: "evaluate end-of-day state for the whole pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()
			return eng.RunEOD(cmd.Context(), tradeDate)
		},
	}

	cmd.Flags().StringVar(&tradeDate, "trade-date", "", "trade date YYYY-MM-DD")
	cmd.MarkFlagRequired("trade-date")
	return cmd
}
