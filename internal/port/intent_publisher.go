package port

import (
	"context"

	"github.com/rl1809/seckill/internal/core/domain"
)

type IntentPublisher interface {
	// PublishIntent durably enqueues the intent for the materializer
	PublishIntent(ctx context.Context, intent domain.OrderIntent) error
}
