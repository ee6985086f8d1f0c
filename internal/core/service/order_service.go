package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/pkg/clock"
	"github.com/rl1809/seckill/internal/port"
)

// OrderService runs the reservation for one attempt and hands successful
// reservations to the relay.
type OrderService struct {
	cache          port.CacheRepository
	catalog        ItemLookup
	relay          *Relay
	clock          clock.Clock
	logger         *slog.Logger
	reserveTimeout time.Duration
}

func NewOrderService(cache port.CacheRepository, catalog ItemLookup, relay *Relay, clk clock.Clock, logger *slog.Logger, reserveTimeout time.Duration) *OrderService {
	return &OrderService{
		cache:          cache,
		catalog:        catalog,
		relay:          relay,
		clock:          clk,
		logger:         logger,
		reserveTimeout: reserveTimeout,
	}
}

// Process reserves one unit of itemID for userID. A relay failure does not
// change the outcome: the reservation stands and is recorded as at risk.
func (s *OrderService) Process(ctx context.Context, itemID, userID string) (domain.Outcome, error) {
	item, ok := s.catalog.Lookup(itemID)
	if !ok {
		return 0, ErrItemNotFound
	}

	reserveCtx, cancel := withTimeout(ctx, s.reserveTimeout)
	outcome, err := s.cache.Reserve(reserveCtx, itemID, userID)
	cancel()
	if err != nil {
		return 0, errors.Wrap(err, "reserve")
	}

	switch outcome {
	case domain.OutcomeDuplicate:
		s.logger.Info("duplicate purchase rejected", "item_id", itemID, "user_id", userID)
		return outcome, nil
	case domain.OutcomeSoldOut:
		s.logger.Info("purchase rejected, stock exhausted", "item_id", itemID, "user_id", userID)
		return outcome, nil
	}

	s.logger.Info("stock reserved", "item_id", itemID, "user_id", userID)

	intent := domain.NewOrderIntent(userID, itemID, item.Price, s.clock.Now())
	_ = s.relay.Relay(ctx, intent)

	return domain.OutcomeReserved, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
