// Package broker wires the three services to the AMQP 0-9-1 message broker:
// topic exchanges orderbook/oms/execution-exchange, and the durable,
// manual-ack consumer queues bound to them.
//
// The connection loop mirrors the exchange package's WebSocket reconnect
// shape: exponential backoff capped at 30s, automatic re-declaration of
// topology on reconnect. Publish/Consume follow the same call shape as a
// typical pub/sub client: Publish(ctx, exchange, routingKey, contentType, body)
// and Consume(queue, consumerTag) returning a channel of deliveries the caller acks or nacks.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	ExchangeOrderbook = "orderbook"
	ExchangeOMS       = "oms"
	ExchangeExecution = "execution-exchange"

	RoutingKeyOrderbookUpdates = "orderbook.updates"
	RoutingKeyOMSAction        = "oms.action"
	RoutingKeyExecutionUpdate  = "execution.update"

	QueuePPO           = "ppo_queue"
	QueuePPOExecution  = "ppo_execution_queue"
	QueueOMSAction     = "oms_action_queue"

	maxReconnectWait = 30 * time.Second
)

// Conn manages a single AMQP connection/channel pair with auto-reconnect and
// declares the full required topology on every (re)connect.
type Conn struct {
	uri    string
	logger zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// New dials the broker once, declaring all exchanges and queues before
// returning. Callers that need reconnect behaviour should use Run.
func New(uri string, logger zerolog.Logger) (*Conn, error) {
	c := &Conn{uri: uri, logger: logger}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect() error {
	conn, err := amqp.Dial(c.uri)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: declare topology: %w", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	exchanges := []string{ExchangeOrderbook, ExchangeOMS, ExchangeExecution}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange %s: %w", ex, err)
		}
	}

	bindings := []struct {
		queue, exchange, routingKey string
	}{
		{QueuePPO, ExchangeOrderbook, RoutingKeyOrderbookUpdates},
		{QueuePPOExecution, ExchangeExecution, RoutingKeyExecutionUpdate},
		{QueueOMSAction, ExchangeOMS, RoutingKeyOMSAction},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// Run holds the connection open, automatically reconnecting and
// re-declaring topology on failure, until ctx is cancelled.
func (c *Conn) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		notifyClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-notifyClose:
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("broker connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}

		if err := c.connect(); err != nil {
			c.logger.Warn().Err(err).Msg("broker reconnect failed")
			continue
		}
		backoff = time.Second
		c.logger.Info().Msg("broker reconnected")
	}
}

// Publish sends a persistent message with the given content type to exchange
// under routingKey.
func (c *Conn) Publish(ctx context.Context, exchange, routingKey, contentType string, body []byte) error {
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume returns a channel of manual-ack deliveries from queue.
func (c *Conn) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, consumerTag, false, false, false, false, nil)
}

// Close tears down the channel and connection.
func (c *Conn) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
