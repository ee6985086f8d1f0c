package service

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/port"
)

// Preheater loads sale items from the durable store into the catalog and
// seeds their fast-store counters.
type Preheater struct {
	db      port.DatabaseRepository
	cache   port.CacheRepository
	catalog *Catalog
	logger  *slog.Logger
}

func NewPreheater(db port.DatabaseRepository, cache port.CacheRepository, catalog *Catalog, logger *slog.Logger) *Preheater {
	return &Preheater{
		db:      db,
		cache:   cache,
		catalog: catalog,
		logger:  logger,
	}
}

// Preheat seeds counters that are not yet present. With reset the counters
// are overwritten from the durable stock and buyer sets are cleared.
func (p *Preheater) Preheat(ctx context.Context, reset bool) error {
	items, err := p.db.ListItems(ctx)
	if err != nil {
		return errors.Wrap(err, "list items")
	}

	for _, item := range items {
		if err := p.cache.InitStock(ctx, item.ID, item.Stock, reset); err != nil {
			return errors.Wrapf(err, "preheat item %s", item.ID)
		}
		p.catalog.Put(item)
		p.logger.Info("stock preheated", "item_id", item.ID, "stock", item.Stock, "reset", reset)
	}

	return nil
}
