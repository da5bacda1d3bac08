package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/lendgine-go/cmd/lendgined/config"
	"github.com/defistate/lendgine-go/engine"
	"github.com/defistate/lendgine-go/streams/jsonrpc/client"
)

const (
	DefaultClientStateBufferSize = 100
)

func main() {
	url := flag.String("url", "ws://localhost:8545/ws", "Websocket URL of a lendgined node.")
	verbose := flag.Bool("v", false, "Log every tick and position of each state.")
	flag.Parse()

	// create the log handler
	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	close := func() {
		os.Exit(1)
	}
	rootLogger := slog.New(rootLogHandler)

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := client.NewClient(
		ctx,
		client.Config{
			URL:        *url,
			Logger:     rootLogger.With("component", "jsonrpc-client"),
			BufferSize: DefaultClientStateBufferSize,
		},
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "url", *url, "error", err)
		close()
	}

	for {
		select {
		case state := <-client.State():
			logState(rootLogger, state, *verbose)
		case err := <-client.Err():
			rootLogger.Error("Fatal client error", "error", err)
			return
		case <-ctx.Done():
			return
		}
	}
}

// logState prints a one-line summary of state, plus its ledgers when verbose.
func logState(logger *slog.Logger, state *engine.State, verbose bool) {
	if state.HasErrors() {
		logger.Warn("State carries a pool error", "sequence", state.Sequence, "error", state.Pair.Error)
	}
	l := state.Lendgine
	logger.Info("State",
		"sequence", state.Sequence,
		"timestamp", state.Timestamp,
		"currentTick", l.CurrentTick,
		"currentLiquidity", config.FormatAmount(l.CurrentLiquidity, 18),
		"borrowed", config.FormatAmount(l.TotalLiquidityBorrowed, 18),
		"rewardPerIN", config.FormatAmount(l.RewardPerINStored, 18),
		"ticks", len(l.Ticks),
		"positions", len(l.Positions),
	)
	if !verbose {
		return
	}
	for _, info := range l.Ticks {
		logger.Info("Tick",
			"tick", info.Tick,
			"liquidity", config.FormatAmount(info.Liquidity, 18),
			"utilized", config.FormatAmount(info.Utilized, 18),
		)
	}
	for _, pos := range l.Positions {
		logger.Info("Position",
			"owner", pos.Owner,
			"tick", pos.Tick,
			"liquidity", config.FormatAmount(pos.Liquidity, 18),
			"tokensOwed", pos.TokensOwed.Dec(),
		)
	}
}
