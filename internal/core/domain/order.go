package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderIntent is the message relayed after a successful reservation.
type OrderIntent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ItemID    string          `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewOrderIntent(userID, itemID string, price decimal.Decimal, now time.Time) OrderIntent {
	return OrderIntent{
		ID:        uuid.NewString(),
		UserID:    userID,
		ItemID:    itemID,
		Price:     price,
		CreatedAt: now,
	}
}

// Order is the durable row. (UserID, ItemID) is unique.
type Order struct {
	ID        string
	UserID    string
	ItemID    string
	Price     decimal.Decimal
	CreatedAt time.Time
}

func (i OrderIntent) Order() Order {
	return Order{
		ID:        i.ID,
		UserID:    i.UserID,
		ItemID:    i.ItemID,
		Price:     i.Price,
		CreatedAt: i.CreatedAt,
	}
}
