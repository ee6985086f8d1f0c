package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfirmingPublisher(confirms ...amqp.Confirmation) (*Publisher, chan amqp.Confirmation) {
	ch := make(chan amqp.Confirmation, confirmBuffer)
	for _, c := range confirms {
		ch <- c
	}
	return &Publisher{confirms: ch, nextTag: 3}, ch
}

func TestWaitConfirm_SkipsStaleTags(t *testing.T) {
	p, _ := newConfirmingPublisher(
		amqp.Confirmation{DeliveryTag: 1, Ack: false},
		amqp.Confirmation{DeliveryTag: 2, Ack: true},
		amqp.Confirmation{DeliveryTag: 3, Ack: true},
	)

	require.NoError(t, p.waitConfirm(context.Background(), p.nextTag, "intent-3"))
	assert.Empty(t, p.confirms)
}

func TestWaitConfirm_BrokerNack(t *testing.T) {
	p, _ := newConfirmingPublisher(amqp.Confirmation{DeliveryTag: 3, Ack: false})

	err := p.waitConfirm(context.Background(), p.nextTag, "intent-3")
	assert.ErrorContains(t, err, "broker rejected intent intent-3")
}

func TestWaitConfirm_ChannelClosed(t *testing.T) {
	p, ch := newConfirmingPublisher(amqp.Confirmation{DeliveryTag: 2, Ack: true})
	close(ch)

	err := p.waitConfirm(context.Background(), p.nextTag, "intent-3")
	assert.ErrorContains(t, err, "channel closed before intent intent-3 was confirmed")

	// the next publish opens a fresh channel
	assert.Nil(t, p.channel)
	assert.Nil(t, p.confirms)
}

func TestWaitConfirm_ContextDone(t *testing.T) {
	p, _ := newConfirmingPublisher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.waitConfirm(ctx, p.nextTag, "intent-3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
