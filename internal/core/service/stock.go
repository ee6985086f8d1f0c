package service

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/port"
)

// StockQuery reads the provisional counter only.
type StockQuery struct {
	cache port.CacheRepository
}

func NewStockQuery(cache port.CacheRepository) *StockQuery {
	return &StockQuery{cache: cache}
}

func (q *StockQuery) CheckStock(ctx context.Context, itemID string) (int, error) {
	stock, err := q.cache.GetStock(ctx, itemID)
	if errors.Is(err, port.ErrStockNotFound) {
		return 0, ErrItemNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "check stock")
	}

	return stock, nil
}
