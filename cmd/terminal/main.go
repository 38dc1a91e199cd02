package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/broker/remote"
	"github.com/meridian-lab/meridian-trading/internal/logger"
)

// terminalAction runs a paper trading terminal server that remote clients
// can connect to over websocket.
func terminalAction(ctx context.Context, cmd *cli.Command) error {
	listen := cmd.String("listen")
	token := cmd.String("token")

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	server := remote.NewTerminalServer(remote.ServerConfig{
		Token:        token,
		Capabilities: remote.Capabilities{Data: true, Orders: true},
	}, broker.NewSimTerminal(), appLogger)

	if err := server.Start(listen); err != nil {
		return err
	}

	fmt.Printf("terminal server listening on %s\n", server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigChan:
		fmt.Println("\nshutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return server.Stop(shutdownCtx)
}

func main() {
	cmd := &cli.Command{
		Name:  "terminal",
		Usage: "Run a paper trading terminal server for remote clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				Value:   "127.0.0.1:8570",
			},
			&cli.StringFlag{
				Name:     "token",
				Aliases:  []string{"t"},
				Usage:    "Auth token clients must present (or TERMINAL_TOKEN env)",
				Sources:  cli.EnvVars("TERMINAL_TOKEN"),
				Required: true,
			},
		},
		Action: terminalAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
