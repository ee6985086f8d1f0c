package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker/v2"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/pkg/config"
	"github.com/rl1809/seckill/internal/port"
)

var (
	ErrInvariantViolation = errors.New("invariant violation: reserved order has no authoritative stock")
	ErrDiverted           = errors.New("order intent diverted to fallback")
)

const compensationTimeout = 2 * time.Second

// SoldOutFlag is the admission gate's sold-out state.
type SoldOutFlag interface {
	MarkSoldOut(itemID string)
	ClearSoldOut(itemID string)
}

// Materializer writes order intents to the durable store behind a circuit
// breaker. The durable store is the source of truth for stock. A guard miss
// brings the fast store in line at once; a diverted intent is left to the
// reconciler.
type Materializer struct {
	db      port.DatabaseRepository
	cache   port.CacheRepository
	flag    SoldOutFlag
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
	timeout time.Duration
}

func NewMaterializer(db port.DatabaseRepository, cache port.CacheRepository, flag SoldOutFlag, cfg config.BreakerConfig, logger *slog.Logger, timeout time.Duration) *Materializer {
	m := &Materializer{
		db:      db,
		cache:   cache,
		flag:    flag,
		logger:  logger,
		timeout: timeout,
	}

	m.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "durable-write",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// a stock guard miss is a data problem, not a sign of an unhealthy store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, port.ErrStockGuard)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return m
}

// Materialize returns nil once the order exists durably, including when a
// redelivered intent finds its order already written. ErrDiverted and
// ErrInvariantViolation are terminal; any other error is retryable.
func (m *Materializer) Materialize(ctx context.Context, intent domain.OrderIntent) error {
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.write(ctx, intent)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		m.fallback(ctx, intent, err)
		return errors.Mark(errors.Wrap(err, "durable write unavailable"), ErrDiverted)
	case errors.Is(err, port.ErrStockGuard):
		m.reconcileExhausted(ctx, intent)
		return errors.Mark(err, ErrInvariantViolation)
	}

	m.logger.Warn("order materialization failed",
		"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", err)
	return errors.Wrap(err, "materialize order")
}

func (m *Materializer) State() gobreaker.State {
	return m.breaker.State()
}

func (m *Materializer) write(ctx context.Context, intent domain.OrderIntent) error {
	writeCtx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	err := m.db.MaterializeOrder(writeCtx, intent.Order())
	if errors.Is(err, port.ErrDuplicateOrder) {
		m.logger.Info("order already materialized, redelivery skipped",
			"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	m.logger.Info("order materialized", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
	return nil
}

// fallback parks the intent without touching the reservation. Whether the
// unit goes back on sale depends on whether an order exists, which cannot be
// asked while the durable store is failing; the reconciler settles it later.
func (m *Materializer) fallback(ctx context.Context, intent domain.OrderIntent, cause error) {
	m.logger.Error("ALERT durable write unavailable, order intent diverted",
		"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "cause", cause)

	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := m.cache.RecordDiverted(compCtx, intent); err != nil {
		m.logger.Error("CRITICAL diverted intent not recorded, manual reconciliation required",
			"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", err)
	}
}

// reconcileExhausted voids the reservation and caps the provisional counter
// at the authoritative stock, which the failed guard proved to be zero.
func (m *Materializer) reconcileExhausted(ctx context.Context, intent domain.OrderIntent) {
	m.logger.Error("ALERT invariant violation: authoritative stock exhausted for reserved order",
		"intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)

	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := m.cache.Release(compCtx, intent.ItemID, intent.UserID); err != nil {
		m.logger.Error("CRITICAL reservation not voided", "item_id", intent.ItemID, "user_id", intent.UserID, "error", err)
	}
	if err := m.cache.CapStock(compCtx, intent.ItemID, 0); err != nil {
		m.logger.Error("CRITICAL fast stock not capped", "item_id", intent.ItemID, "error", err)
	}
	if m.flag != nil {
		m.flag.MarkSoldOut(intent.ItemID)
	}
}
