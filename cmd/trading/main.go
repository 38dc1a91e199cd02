package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/broker/remote"
	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/store/provider"
	"github.com/meridian-lab/meridian-trading/internal/strategy"
)

// tradingAction wires a live data feed and a broker into the live engine
// and runs until interrupted.
func tradingAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	providerFlag := cmd.String("provider")
	brokerFlag := cmd.String("broker")
	remoteURL := cmd.String("remote-url")
	remoteToken := cmd.String("remote-token")
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

	dataProvider, err := provider.NewProvider(provider.ProviderType(providerFlag), os.Getenv("POLYGON_API_KEY"))
	if err != nil {
		return err
	}

	duckdb, err := store.NewDuckDBStore(config.StorePath, appLogger)
	if err != nil {
		return err
	}
	defer duckdb.Close()

	runLedger, err := ledger.NewLedger(config.LedgerPath, appLogger)
	if err != nil {
		return err
	}
	defer runLedger.Close()

	var (
		orderBroker  broker.Broker
		remoteClient *remote.Client
	)

	switch broker.BrokerType(brokerFlag) {
	case broker.BrokerSimulated, broker.BrokerLocal:
		orderBroker = broker.NewLocalBroker(broker.NewSimTerminal())
	case broker.BrokerRemote:
		if remoteURL == "" || remoteToken == "" {
			return fmt.Errorf("remote broker requires --remote-url and --remote-token")
		}

		remoteClient = remote.NewClient(remote.DefaultClientConfig(remoteURL, remoteToken), appLogger)
		orderBroker = remoteClient
	default:
		return fmt.Errorf("unsupported broker type: %s", brokerFlag)
	}

	live, err := engine.NewLiveEngine(config, strategy.NewSMACross(quantity), store.NewCachedStore(duckdb), runLedger, dataProvider, orderBroker, appLogger)
	if err != nil {
		return err
	}

	if remoteClient != nil {
		remoteClient.SetStaleCallback(live.RejectStale)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nreceived interrupt, stopping after the current tick...")
		live.Stop()
	}()

	fmt.Printf("starting live trading: symbols=%v interval=%s broker=%s\n", config.Symbols, config.Frequency, brokerFlag)

	return live.Run(ctx)
}

func main() {
	cmd := &cli.Command{
		Name:  "trading",
		Usage: "Run a strategy against a live market data feed and broker",
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
				Usage:   fmt.Sprintf("Market data provider (%s, %s, %s)", provider.ProviderBinance, provider.ProviderPolygon, provider.ProviderMemory),
				Value:   string(provider.ProviderBinance),
			},
			&cli.StringFlag{
				Name:    "broker",
				Aliases: []string{"b"},
				Usage:   fmt.Sprintf("Order broker (%s, %s)", broker.BrokerSimulated, broker.BrokerRemote),
				Value:   string(broker.BrokerSimulated),
			},
			&cli.StringFlag{
				Name:  "remote-url",
				Usage: "Remote terminal websocket URL",
			},
			&cli.StringFlag{
				Name:    "remote-token",
				Usage:   "Remote terminal auth token (or REMOTE_TERMINAL_TOKEN env)",
				Sources: cli.EnvVars("REMOTE_TERMINAL_TOKEN"),
			},
			&cli.FloatFlag{
				Name:    "quantity",
				Aliases: []string{"q"},
				Usage:   "Order size for the reference strategy",
				Value:   10,
			},
		},
		Action: tradingAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
