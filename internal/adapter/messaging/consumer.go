package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/streadway/amqp"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/pkg/config"
)

// IntentHandler makes an order intent durable.
type IntentHandler interface {
	Materialize(ctx context.Context, intent domain.OrderIntent) error
}

// Consumer reads order intents off the queue with manual acknowledgement.
// A delivery is acked only after its intent reaches a terminal state, so a
// crash before that leaves it on the queue for redelivery.
type Consumer struct {
	client  *RabbitMQClient
	handler IntentHandler
	config  config.RabbitMQConfig
	logger  *slog.Logger
}

func NewConsumer(client *RabbitMQClient, handler IntentHandler, cfg config.RabbitMQConfig, logger *slog.Logger) *Consumer {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	return &Consumer{
		client:  client,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled, subscribing again whenever the
// channel is lost.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			c.logger.Warn("order consumer interrupted", "queue", c.config.Queue, "error", err)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("order consumer stopped", "queue", c.config.Queue)
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.client.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set prefetch")
	}

	messages, err := ch.Consume(
		c.config.Queue, // queue
		"",             // consumer
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}

	c.logger.Info("consuming order intents", "queue", c.config.Queue, "workers", c.config.Consumers)

	var wg sync.WaitGroup
	for i := 0; i < c.config.Consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-messages:
					if !ok {
						return
					}
					c.handleDelivery(ctx, msg)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("delivery channel closed")
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var intent domain.OrderIntent
	if err := json.Unmarshal(msg.Body, &intent); err != nil || intent.ItemID == "" || intent.UserID == "" {
		c.logger.Error("malformed order intent dropped", "message_id", msg.MessageId, "error", err)
		c.nack(msg, false)
		return
	}

	err := c.handler.Materialize(ctx, intent)
	switch {
	case err == nil,
		errors.Is(err, service.ErrDiverted),
		errors.Is(err, service.ErrInvariantViolation):
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("ack failed", "intent_id", intent.ID, "error", ackErr)
		}
		return
	}

	c.logger.Warn("order intent requeued", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", err)

	select {
	case <-time.After(c.config.RetryDelay):
	case <-ctx.Done():
	}
	c.nack(msg, true)
}

func (c *Consumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.logger.Error("nack failed", "message_id", msg.MessageId, "error", err)
	}
}
