package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/store/provider"
	"github.com/meridian-lab/meridian-trading/internal/strategy"
)

// backtestAction loads history through the configured provider, replays it
// through the strategy, and exports the run ledger.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	providerFlag := cmd.String("provider")
	exportDir := cmd.String("export")
	quantity := cmd.Float("quantity")

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config, err := engine.ParseConfig(string(configBytes))
	if err != nil {
		return err
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	duckdb, err := store.NewDuckDBStore(config.StorePath, appLogger)
	if err != nil {
		return err
	}
	defer duckdb.Close()

	barStore := store.NewCachedStore(duckdb)

	if providerFlag != string(provider.ProviderMemory) {
		dataProvider, err := provider.NewProvider(provider.ProviderType(providerFlag), os.Getenv("POLYGON_API_KEY"))
		if err != nil {
			return err
		}

		start := time.Time{}
		if config.StartTime.IsSome() {
			start = config.StartTime.Unwrap()
		}

		end := time.Now()
		if config.EndTime.IsSome() {
			end = config.EndTime.Unwrap()
		}

		loader := store.NewProviderLoader(dataProvider, barStore, appLogger)
		if err := loader.Load(ctx, config.Symbols, start, end, config.Frequency); err != nil {
			return err
		}
	}

	runLedger, err := ledger.NewLedger(config.LedgerPath, appLogger)
	if err != nil {
		return err
	}
	defer runLedger.Close()

	backtest, err := engine.NewBacktestEngine(config, strategy.NewSMACross(quantity), barStore, runLedger, appLogger)
	if err != nil {
		return err
	}

	backtest.ShowProgress = true

	if err := backtest.Run(ctx); err != nil {
		return err
	}

	for symbol, symbolErr := range backtest.FailedSymbols() {
		fmt.Printf("symbol %s was dropped from the run: %v\n", symbol, symbolErr)
	}

	portfolio, orders := backtest.Results()
	fmt.Printf("orders: %d, final cash: %.2f\n", len(orders), portfolio.Cash())

	if exportDir != "" {
		if err := runLedger.ExportParquet(exportDir); err != nil {
			return err
		}

		fmt.Printf("ledger exported to %s\n", exportDir)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay stored history through a strategy with simulated execution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine YAML config",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   fmt.Sprintf("Market data provider to preload from (%s, %s, %s)", provider.ProviderMemory, provider.ProviderPolygon, provider.ProviderBinance),
				Value:   string(provider.ProviderMemory),
			},
			&cli.StringFlag{
				Name:    "export",
				Aliases: []string{"e"},
				Usage:   "Directory to export the run ledger to as Parquet",
			},
			&cli.FloatFlag{
				Name:    "quantity",
				Aliases: []string{"q"},
				Usage:   "Order size for the reference strategy",
				Value:   10,
			},
		},
		Action: backtestAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
