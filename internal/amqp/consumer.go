package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"ledger/internal/log"
)

// Handler processes one transaction.created event. Returning an error
// requeues the delivery.
type Handler func(ctx context.Context, msg *TransactionCreatedMessage) error

// Consumer reads transaction events from the queue bound to the exchange.
type Consumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	logger    *log.Logger
}

func NewConsumer(url, exchangeName, routingKey string, prefetch int, logger *log.Logger) (*Consumer, error) {
	conn, channel, err := dial(url, exchangeName, routingKey, connectTimeout)
	if err != nil {
		return nil, err
	}
	if prefetch > 0 {
		if err := channel.Qos(prefetch, 0, false); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: routingKey,
		logger:    logger.WithComponent(log.ComponentAMQP),
	}, nil
}

// Consume blocks, dispatching deliveries to handler until ctx is done or the
// channel closes.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.ConsumeWithContext(ctx, c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming transaction events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, delivery, handler)
		}
	}
}

// dispatch acks handled deliveries, drops undecodable ones and requeues
// deliveries whose handler failed.
func (c *Consumer) dispatch(ctx context.Context, d amqp091.Delivery, handler Handler) {
	msg, err := TransactionCreatedMessageFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	fields := log.NewFields().WithOperation(log.OpConsume).WithTransaction(msg.ID)
	if d.CorrelationId != "" {
		fields = fields.WithRequestID(d.CorrelationId)
	}
	if err := handler(ctx, msg); err != nil {
		c.logger.Fields(ctx, slog.LevelError, "Failed to handle message", fields.WithError(err))
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
	c.logger.Fields(ctx, slog.LevelDebug, "Processed transaction event", fields)
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
