package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a flash-sale product. Stock here is the authoritative count owned by
// the durable store.
type Item struct {
	ID        string
	Name      string
	Title     string
	Image     string
	Price     decimal.Decimal
	Stock     int
	StartTime time.Time
	EndTime   time.Time
}

// SaleOpen reports whether t falls inside the item's sale window. A zero
// bound is treated as unbounded.
func (i Item) SaleOpen(t time.Time) bool {
	return !i.SaleNotStarted(t) && !i.SaleEnded(t)
}

func (i Item) SaleNotStarted(t time.Time) bool {
	return !i.StartTime.IsZero() && t.Before(i.StartTime)
}

func (i Item) SaleEnded(t time.Time) bool {
	return !i.EndTime.IsZero() && !t.Before(i.EndTime)
}
