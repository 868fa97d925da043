// Command lifecycleengine runs the Lifecycle Engine service: it submits
// orders derived from actions, tracks their fills through the
// closing/opening decomposition, computes trade reward, and runs the
// one-at-a-time cancellation sub-protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/broker"
	"github.com/s4nngr10r/rtdppo/internal/codec"
	"github.com/s4nngr10r/rtdppo/internal/config"
	"github.com/s4nngr10r/rtdppo/internal/exchange"
	"github.com/s4nngr10r/rtdppo/internal/lifecycle"
	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/internal/store"
)

const snapshotKey = "lifecycle"

func main() {
	cfgPath := config.EnvOrDefault("LIFECYCLE_CONFIG", "")
	cfg, err := config.LoadLifecycle(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging).With().Str("service", "lifecycleengine").Logger()

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

	snap, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open snapshot store")
	}
	defer snap.Close()

	auth := exchange.NewAuth(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Passphrase)
	client := exchange.NewClient(cfg.Exchange.RESTBaseURL, cfg.Symbol, auth, logger)
	privateFeed := exchange.NewPrivateFeed(cfg.Exchange.WSPrivateURL, cfg.Symbol, cfg.BalanceCcy, auth, logger)
	go func() {
		if err := privateFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("private feed loop exited")
		}
	}()

	sizing := lifecycle.SizingParams{
		MarginCapPercent: cfg.MarginCapPercent,
		Leverage:         cfg.Leverage,
		MinContract:      cfg.MinContract,
	}
	engine := lifecycle.New(sizing, cfg.MaxActiveOrders, client, &reportPublisher{conn: conn}, logger)

	var restored lifecycle.Snapshot
	if ok, err := snap.LoadSnapshot(snapshotKey, &restored); err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, starting flat")
	} else if ok {
		engine.Restore(restored)
		logger.Info().Msg("restored lifecycle snapshot")
	}

	actions, err := conn.Consume(broker.QueueOMSAction, "lifecycleengine-actions")
	if err != nil {
		logger.Fatal().Err(err).Msg("consume oms actions")
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port))
	}

	cancelTicker := time.NewTicker(time.Second)
	defer cancelTicker.Stop()
	snapshotTicker := time.NewTicker(10 * time.Second)
	defer snapshotTicker.Stop()

	logger.Info().Str("symbol", cfg.Symbol).Msg("lifecycle engine started")

	for {
		select {
		case <-ctx.Done():
			if err := snap.SaveSnapshot(snapshotKey, engine.Snapshot()); err != nil {
				logger.Error().Err(err).Msg("failed to persist snapshot on shutdown")
			}
			logger.Info().Msg("lifecycle engine shutting down")
			return

		case d, ok := <-actions:
			if !ok {
				return
			}
			action, err := codec.DecodeAction(d.Body)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping malformed action frame")
				_ = d.Nack(false, false)
				continue
			}
			if err := engine.SubmitAction(ctx, action); err != nil {
				logger.Error().Err(err).Msg("submit action failed")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)

		case ack := <-privateFeed.OrderAcks():
			engine.OnOrderAck(ack)

		case fill := <-privateFeed.Fills():
			if err := engine.ProcessFill(ctx, fill); err != nil {
				logger.Error().Err(err).Msg("process fill failed")
			}

		case pos := <-privateFeed.Positions():
			engine.ObservePosition(pos)

		case bal := <-privateFeed.Balances():
			engine.SetBalance(bal.Balance)

		case cancel := <-privateFeed.Cancels():
			engine.OnCancelResult(cancel)

		case <-cancelTicker.C:
			if err := engine.ProcessCancelQueue(ctx); err != nil {
				logger.Warn().Err(err).Msg("cancel request failed")
			}

		case <-snapshotTicker.C:
			if err := snap.SaveSnapshot(snapshotKey, engine.Snapshot()); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// reportPublisher adapts broker.Conn to lifecycle.ReportPublisher.
type reportPublisher struct {
	conn *broker.Conn
}

func (p *reportPublisher) PublishReport(ctx context.Context, payload []byte) error {
	return p.conn.Publish(ctx, broker.ExchangeExecution, broker.RoutingKeyExecutionUpdate, "application/json", payload)
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
