// pygase-client is a minimal example program that connects to a
// pygase-server, prints its mirrored game state once a second, and
// disconnects on interrupt. It is a wiring demonstration, not a game:
// any rendering/presentation layer is out of scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "go.uber.org/automaxprocs"

	"pygase/internal/config"
	"pygase/internal/logging"
	"pygase/internal/metrics"
	"pygase/pygase/client"
)

func main() {
	host := flag.String("host", client.DefaultHost, "server host")
	port := flag.Int("port", 8080, "server port")
	asHost := flag.Bool("shutdown-server-on-exit", false, "request server shutdown on disconnect (only honored if this client is the host_client)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()
	c := client.New(cfg, nil, logger, metricsRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx, *port, *host); err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Disconnect(*asHost)
			return
		case <-ticker.C:
			acc := c.AccessGameState()
			snap := acc.State()
			acc.Release()
			logger.Info("mirrored state",
				zap.Uint64("time_order", uint64(snap.TimeOrder)),
				zap.String("status", snap.Status().String()),
				zap.String("connection_status", c.Status().String()),
				zap.Float64("latency_ms", c.LatencyMs()),
			)
		}
	}
}
