package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is an immutable record of a match between a resting (maker) order
// and an incoming (taker) order. Price is always the maker's price.
type Trade struct {
	MakerOrderID uint64          `json:"maker_id"`
	TakerOrderID uint64          `json:"taker_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     uint64          `json:"quantity"`
	Timestamp    int64           `json:"timestamp"` // unix milliseconds

	MakerUserID *uuid.UUID `json:"-"`
	TakerUserID *uuid.UUID `json:"-"`
}

// Value returns the quote amount exchanged by the trade.
func (t Trade) Value() decimal.Decimal {
	return Notional(t.Price, t.Quantity)
}

// ExecutedAt returns the trade timestamp as a time.Time.
func (t Trade) ExecutedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}
