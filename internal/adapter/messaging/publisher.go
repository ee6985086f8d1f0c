package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/streadway/amqp"

	"github.com/rl1809/seckill/internal/core/domain"
)

const confirmBuffer = 64

// Publisher sends order intents as persistent JSON messages and waits for
// the broker to confirm each one.
type Publisher struct {
	client *RabbitMQClient

	mu       sync.Mutex
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	nextTag  uint64
}

func NewPublisher(client *RabbitMQClient) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishIntent(ctx context.Context, intent domain.OrderIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "intent serialization error")
	}

	// held until the confirm arrives: tags are matched one publish at a
	// time, so concurrent relays are serialized on this channel
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	err = p.channel.Publish(
		"",               // default exchange
		p.client.Queue(), // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    intent.ID,
			Timestamp:    intent.CreatedAt,
			Headers: amqp.Table{
				"item_id": intent.ItemID,
				"user_id": intent.UserID,
			},
		},
	)
	if err != nil {
		p.resetChannel()
		return errors.Wrap(err, "intent publish error")
	}

	p.nextTag++
	return p.waitConfirm(ctx, p.nextTag, intent.ID)
}

func (p *Publisher) waitConfirm(ctx context.Context, tag uint64, intentID string) error {
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				p.resetChannel()
				return errors.Newf("channel closed before intent %s was confirmed", intentID)
			}
			// late confirms of publishes that timed out earlier
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return errors.Newf("broker rejected intent %s", intentID)
			}
			return nil
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "wait for confirm of intent %s", intentID)
		}
	}
}

func (p *Publisher) ensureChannel() error {
	if p.channel != nil {
		return nil
	}

	ch, err := p.client.OpenChannel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return errors.Wrap(err, "enable publisher confirms")
	}

	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	p.nextTag = 0
	return nil
}

func (p *Publisher) resetChannel() {
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = nil
	p.confirms = nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	return errors.Wrap(err, "close publish channel")
}
