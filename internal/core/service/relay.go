package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

var ErrRelayFailed = errors.New("order intent relay failed")

// Relay is the only bridge from a reservation to the durable path.
type Relay struct {
	publisher port.IntentPublisher
	cache     port.CacheRepository
	logger    *slog.Logger
	timeout   time.Duration
}

func NewRelay(publisher port.IntentPublisher, cache port.CacheRepository, logger *slog.Logger, timeout time.Duration) *Relay {
	return &Relay{
		publisher: publisher,
		cache:     cache,
		logger:    logger,
		timeout:   timeout,
	}
}

// Relay enqueues the intent. On failure the stock is already held in the
// fast store, so the intent is kept in the at-risk list for the reconciler.
func (r *Relay) Relay(ctx context.Context, intent domain.OrderIntent) error {
	publishCtx, cancel := withTimeout(ctx, r.timeout)
	err := r.publisher.PublishIntent(publishCtx, intent)
	cancel()

	if err == nil {
		r.logger.Debug("order intent enqueued", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
		return nil
	}

	r.logger.Error("reservation at risk: order intent not enqueued",
		"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", err)

	recordCtx, cancel := withTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if recErr := r.cache.RecordAtRisk(recordCtx, intent); recErr != nil {
		r.logger.Error("CRITICAL at-risk intent not recorded, manual reconciliation required",
			"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", recErr)
	}

	return errors.Mark(errors.Wrap(err, "publish intent"), ErrRelayFailed)
}
