// Command decisionrelay runs the Decision Relay service: it buffers feature
// frames, applies the parity/window/exploration gates, derives an action per
// settled decision, and correlates inbound execution reports into completed
// trades for the training hook.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/broker"
	"github.com/s4nngr10r/rtdppo/internal/codec"
	"github.com/s4nngr10r/rtdppo/internal/config"
	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/internal/relay"
)

func main() {
	cfgPath := config.EnvOrDefault("RELAY_CONFIG", "")
	cfg, err := config.LoadRelay(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging).With().Str("service", "decisionrelay").Logger()

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

	params := relay.DefaultBaselineParams()
	r := relay.New(params.Decide, &logHook{logger: logger}, &actionPublisher{conn: conn}, logger)

	frames, err := conn.Consume(broker.QueuePPO, "decisionrelay-frames")
	if err != nil {
		logger.Fatal().Err(err).Msg("consume orderbook updates")
	}
	executions, err := conn.Consume(broker.QueuePPOExecution, "decisionrelay-executions")
	if err != nil {
		logger.Fatal().Err(err).Msg("consume execution updates")
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port))
	}

	logger.Info().Msg("decision relay started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("decision relay shutting down")
			return

		case d, ok := <-frames:
			if !ok {
				return
			}
			frame, err := codec.DecodeFeatureFrame(d.Body)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping malformed feature frame")
				_ = d.Nack(false, false)
				continue
			}
			if _, err := r.OnFrame(ctx, frame); err != nil {
				logger.Error().Err(err).Msg("decision failed")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)

		case d, ok := <-executions:
			if !ok {
				return
			}
			var report relay.ExecutionReport
			if err := json.Unmarshal(d.Body, &report); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed execution report")
				_ = d.Nack(false, false)
				continue
			}
			r.OnExecutionReport(report)
			_ = d.Ack(false)
		}
	}
}

// actionPublisher adapts broker.Conn to relay.Publisher.
type actionPublisher struct {
	conn *broker.Conn
}

func (p *actionPublisher) PublishAction(ctx context.Context, payload []byte) error {
	return p.conn.Publish(ctx, broker.ExchangeOMS, broker.RoutingKeyOMSAction, "application/octet-stream", payload)
}

// logHook is the default training hook: it logs completed trades. A real
// training pipeline would subscribe in its place without Relay changing.
type logHook struct {
	logger zerolog.Logger
}

func (h *logHook) Observe(trade relay.CompletedTrade) {
	h.logger.Info().Float64("reward", trade.Reward).Int("orders", len(trade.Orders)).Msg("trade completed")
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
