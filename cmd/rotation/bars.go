package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/rotation/internal/adapters/marketdata"
)

// Días naturales de histórico a descargar: cubre la ventana de 60 días de
// trading más fines de semana y festivos.
const defaultFetchLookbackDays = 200

func newImportBarsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import-bars",
		Short: "load daily bars into the price history from a CSV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := marketdata.NewSQLiteProvider(cfg.MarketData.DSN, cfg.DomainRules())
			if err != nil {
				return err
			}
			defer provider.Close()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("import-bars: open %q: %w", file, err)
			}
			defer f.Close()

			n, err := provider.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			slog.Info("bars imported", "file", file, "bars", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV file with columns symbol,trade_date,close,volume")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newFetchBarsCmd() *cobra.Command {
	var tradeDate string
	var lookbackDays int

	cmd := &cobra.Command{
		Use:   "fetch-bars",
		Short: "fetch daily bars for the pool from the quotes API into the price history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.MarketData.APIBase == "" {
				return fmt.Errorf("fetch-bars: marketdata.api_base is not configured")
			}
			end, err := time.Parse(time.DateOnly, tradeDate)
			if err != nil {
				return fmt.Errorf("fetch-bars: invalid trade date %q, expected YYYY-MM-DD", tradeDate)
			}
			from := end.AddDate(0, 0, -lookbackDays).Format(time.DateOnly)

			pool, err := cfg.BuildPool()
			if err != nil {
				return err
			}
			provider, err := marketdata.NewSQLiteProvider(cfg.MarketData.DSN, cfg.DomainRules())
			if err != nil {
				return err
			}
			defer provider.Close()

			fetcher := marketdata.NewFetcher(cfg.MarketData.APIBase)
			total := 0
			for _, sym := range pool.ActiveSymbols() {
				bars, err := fetcher.DailyBars(cmd.Context(), sym, from, tradeDate)
				if err != nil {
					return err
				}
				if err := provider.UpsertBars(cmd.Context(), bars); err != nil {
					return err
				}
				slog.Debug("bars fetched", "symbol", sym, "bars", len(bars))
				total += len(bars)
			}
			slog.Info("fetch complete", "from", from, "to", tradeDate, "bars", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&tradeDate, "trade-date", "", "last trade date to fetch, YYYY-MM-DD")
	cmd.Flags().IntVar(&lookbackDays, "lookback-days", defaultFetchLookbackDays, "calendar days of history to fetch")
	cmd.MarkFlagRequired("trade-date")
	return cmd
}
