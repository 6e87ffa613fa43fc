package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/rotation/config"
	"github.com/alejandrodnm/rotation/internal/adapters/marketdata"
	"github.com/alejandrodnm/rotation/internal/adapters/report"
	"github.com/alejandrodnm/rotation/internal/adapters/storage"
	"github.com/alejandrodnm/rotation/internal/application/engine"
)

var (
	cfgPath   string
	verbose   bool
	logFormat string

	cfg *config.Config
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rotation",
		Short:         "daily breakout rotation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			setupLogger(cfg.Log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "config/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "set log level to debug")
	root.PersistentFlags().StringVar(&logFormat, "format", "", "log format: text|json (overrides config)")

	root.AddCommand(newRunEODCmd(), newRunT1Cmd(), newImportBarsCmd(), newFetchBarsCmd())
	return root
}

// buildEngine cablea los adaptadores del motor a partir de la configuración.
// El cleanup devuelto cierra ambos stores.
func buildEngine() (*engine.Engine, func(), error) {
	pool, err := cfg.BuildPool()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}
	provider, err := marketdata.NewSQLiteProvider(cfg.MarketData.DSN, cfg.DomainRules())
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	eng := engine.New(cfg.DomainRules(), pool, provider, store, report.NewConsole())
	cleanup := func() {
		provider.Close()
		store.Close()
	}
	return eng, cleanup, nil
}

func setupLogger(lc config.LogConfig) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
