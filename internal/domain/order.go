package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// LockedAsset is the asset reserved while an order of this side is open:
// quote for buys, base for sells.
func (s Side) LockedAsset() string {
	if s == SideBuy {
		return QuoteAsset
	}
	return BaseAsset
}

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

// Order is an instruction to buy or sell the base asset. While the order
// rests in the book, Quantity holds the remaining unfilled amount.
// Market orders carry a zero Price.
type Order struct {
	ID       uint64          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
	Side     Side            `json:"side"`
	Type     OrderType       `json:"order_type"`
	UserID   *uuid.UUID      `json:"user_id"`
}

// IsMarket reports whether the order is a market order.
func (o *Order) IsMarket() bool {
	return o.Type == OrderTypeMarket
}

// OwnedBy reports whether the order belongs to the given user.
// Ownerless orders belong to nobody.
func (o *Order) OwnedBy(user uuid.UUID) bool {
	return o.UserID != nil && *o.UserID == user
}

// Notional returns price × quantity of the order.
func (o *Order) Notional() decimal.Decimal {
	return Notional(o.Price, o.Quantity)
}
