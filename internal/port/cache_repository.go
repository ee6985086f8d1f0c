package port

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/core/domain"
)

var (
	ErrStockNotFound = errors.New("stock not found")
	ErrCorruptRecord = errors.New("unreadable reconciliation record")
)

type CacheRepository interface {
	// Reserve runs the buyer check, stock check and decrement as one atomic step
	Reserve(ctx context.Context, itemID, userID string) (domain.Outcome, error)

	// Release undoes a reservation, returns false if the user held none
	Release(ctx context.Context, itemID, userID string) (bool, error)

	// CapStock lowers the counter to max if it is above it
	CapStock(ctx context.Context, itemID string, max int) error

	// GetStock returns ErrStockNotFound if the item was never seeded
	GetStock(ctx context.Context, itemID string) (int, error)

	// InitStock seeds the counter; reset overwrites it and clears the buyer set
	InitStock(ctx context.Context, itemID string, stock int, reset bool) error

	// RecordAtRisk keeps an intent whose relay failed for later reconciliation
	RecordAtRisk(ctx context.Context, intent domain.OrderIntent) error

	// PopAtRisk returns nil when the at-risk list is empty. An undecodable
	// record is moved to a dead list and reported as ErrCorruptRecord.
	PopAtRisk(ctx context.Context) (*domain.OrderIntent, error)

	// RecordDiverted keeps an intent the materializer could not write while
	// the durable store was unavailable
	RecordDiverted(ctx context.Context, intent domain.OrderIntent) error

	// PopDiverted behaves like PopAtRisk for the diverted list
	PopDiverted(ctx context.Context) (*domain.OrderIntent, error)
}
