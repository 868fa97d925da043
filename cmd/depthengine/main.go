// Command depthengine runs the Depth Engine service: it maintains the local
// order-book mirror for one instrument, derives feature frames on every
// settled update, and publishes them to the orderbook exchange for the
// Decision Relay to consume.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/broker"
	"github.com/s4nngr10r/rtdppo/internal/config"
	"github.com/s4nngr10r/rtdppo/internal/depth"
	"github.com/s4nngr10r/rtdppo/internal/exchange"
	"github.com/s4nngr10r/rtdppo/internal/metrics"
)

func main() {
	cfgPath := config.EnvOrDefault("DEPTH_CONFIG", "")
	cfg, err := config.LoadDepthEngine(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging).With().Str("service", "depthengine").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := broker.New(cfg.Broker.URI(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to broker")
	}
	defer conn.Close()
	go func() {
		if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("broker connection loop exited")
		}
	}()

	engine := depth.New(&framePublisher{conn: conn}, logger)

	feed := exchange.NewDepthFeed(cfg.Exchange.WSPublicURL, cfg.Symbol, logger)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("depth feed loop exited")
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port))
	}

	logger.Info().Str("symbol", cfg.Symbol).Msg("depth engine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("depth engine shutting down")
			return
		case raw := <-feed.Frames():
			if err := engine.Ingest(ctx, raw); err != nil {
				logger.Error().Err(err).Msg("fatal session invariant violated, waiting for reconnect resnapshot")
			}
		}
	}
}

// framePublisher adapts broker.Conn to depth.Publisher.
type framePublisher struct {
	conn *broker.Conn
}

func (p *framePublisher) PublishFrame(ctx context.Context, payload []byte) error {
	return p.conn.Publish(ctx, broker.ExchangeOrderbook, broker.RoutingKeyOrderbookUpdates, "application/octet-stream", payload)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out zerolog.Logger
	if cfg.Format == "json" {
		out = zerolog.New(os.Stdout)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}
