package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/port"
)

// Reconciler settles the intents the normal path could not. Relay failures
// are either already orders or are published again; materialization is
// idempotent, so a second copy in the queue is harmless. Diverted intents
// give their unit back only once the durable store confirms there is no
// order for them.
type Reconciler struct {
	cache     port.CacheRepository
	db        port.DatabaseRepository
	publisher port.IntentPublisher
	flag      SoldOutFlag
	logger    *slog.Logger
}

func NewReconciler(cache port.CacheRepository, db port.DatabaseRepository, publisher port.IntentPublisher, flag SoldOutFlag, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cache:     cache,
		db:        db,
		publisher: publisher,
		flag:      flag,
		logger:    logger,
	}
}

// Drain processes the at-risk list until it is empty and returns the number
// of intents published again. An intent that cannot be settled is put back.
func (r *Reconciler) Drain(ctx context.Context) (int, error) {
	republished := 0

	for {
		intent, err := r.cache.PopAtRisk(ctx)
		if errors.Is(err, port.ErrCorruptRecord) {
			r.logger.Error("CRITICAL at-risk record unreadable, manual reconciliation required", "error", err)
			continue
		}
		if err != nil {
			return republished, err
		}
		if intent == nil {
			return republished, nil
		}

		exists, err := r.db.OrderExists(ctx, intent.UserID, intent.ItemID)
		if err == nil && exists {
			r.logger.Info("at-risk intent already materialized", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
			continue
		}
		if err == nil {
			err = r.publisher.PublishIntent(ctx, *intent)
		}
		if err != nil {
			if recErr := r.cache.RecordAtRisk(context.WithoutCancel(ctx), *intent); recErr != nil {
				r.logger.Error("CRITICAL at-risk intent lost", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", recErr)
			}
			return republished, errors.Wrapf(err, "reconcile intent %s", intent.ID)
		}

		republished++
		r.logger.Info("at-risk intent republished", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
	}
}

// Compensate processes the diverted list until it is empty and returns the
// number of reservations released. It stops at the first intent the durable
// store cannot answer for and puts that intent back.
func (r *Reconciler) Compensate(ctx context.Context) (int, error) {
	released := 0

	for {
		intent, err := r.cache.PopDiverted(ctx)
		if errors.Is(err, port.ErrCorruptRecord) {
			r.logger.Error("CRITICAL diverted record unreadable, manual reconciliation required", "error", err)
			continue
		}
		if err != nil {
			return released, err
		}
		if intent == nil {
			return released, nil
		}

		exists, err := r.db.OrderExists(ctx, intent.UserID, intent.ItemID)
		if err == nil && exists {
			r.logger.Info("diverted intent already materialized, reservation kept", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID)
			continue
		}

		var ok bool
		if err == nil {
			ok, err = r.cache.Release(ctx, intent.ItemID, intent.UserID)
		}
		if err != nil {
			if recErr := r.cache.RecordDiverted(context.WithoutCancel(ctx), *intent); recErr != nil {
				r.logger.Error("CRITICAL diverted intent lost", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "error", recErr)
			}
			return released, errors.Wrapf(err, "compensate intent %s", intent.ID)
		}

		if ok {
			released++
			if r.flag != nil {
				r.flag.ClearSoldOut(intent.ItemID)
			}
		}
		r.logger.Info("diverted reservation released", "intent_id", intent.ID, "item_id", intent.ItemID, "user_id", intent.UserID, "released", ok)
	}
}

// Run drains both lists every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reconcile pass failed", "error", err)
			}
			if _, err := r.Compensate(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("compensation pass failed", "error", err)
			}
		}
	}
}
