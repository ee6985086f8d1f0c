package port

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/core/domain"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
	ErrStockGuard     = errors.New("authoritative stock exhausted")
)

type DatabaseRepository interface {
	// MaterializeOrder inserts the order and decrements stock guarded by stock > 0 in one transaction
	MaterializeOrder(ctx context.Context, order domain.Order) error

	// OrderExists reports whether the user already has an order for the item
	OrderExists(ctx context.Context, userID, itemID string) (bool, error)

	ListItems(ctx context.Context) ([]domain.Item, error)
}
