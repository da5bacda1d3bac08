package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/cmd/lendgined/config"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	close := func() {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Failed to load configuration", "error", err)
		close()
	}

	// create the log handler
	rootLogHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	rootLogger := slog.New(rootLogHandler)
	prometheusRegistry := prometheus.DefaultRegisterer

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New(prometheusRegistry)
	if err != nil {
		rootLogger.Error("Failed to register metrics", "error", err)
		close()
	}

	n, err := newNode(cfg, rootLogger, m, chain.SystemClock{})
	if err != nil {
		rootLogger.Error("Failed to initialize node", "error", err)
		close()
	}
	if err := n.applyGenesis(cfg.Genesis); err != nil {
		rootLogger.Error("Failed to apply genesis", "error", err)
		close()
	}
	n.server.Publish()

	rpcServer, err := n.server.RPCServer()
	if err != nil {
		rootLogger.Error("Failed to initialize RPC server", "error", err)
		close()
	}
	defer rpcServer.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))
	mux.Handle("/", rpcServer)
	rpcHTTP := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{rpcHTTP, metricsHTTP} {
		go func(srv *http.Server) {
			rootLogger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	go n.runKeeper(ctx, cfg.AccrualInterval)

	select {
	case err := <-errCh:
		rootLogger.Error("HTTP server failed", "error", err)
	case <-ctx.Done():
		rootLogger.Info("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{rpcHTTP, metricsHTTP} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rootLogger.Warn("HTTP shutdown", "addr", srv.Addr, "error", err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
