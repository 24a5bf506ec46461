package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Intent is a durability request emitted by the engine. Intents are
// applied in emission order.
type Intent interface {
	Kind() string
}

// UpdateBalance records the new state of one (user, asset) balance.
type UpdateBalance struct {
	Balance
}

func (UpdateBalance) Kind() string { return "update_balance" }

// SaveTrade records an executed trade. UserID is the taker's owner.
type SaveTrade struct {
	MakerOrderID uint64          `json:"maker_order_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     uint64          `json:"quantity"`
	Timestamp    int64           `json:"timestamp"`
	UserID       *uuid.UUID      `json:"user_id"`
	MakerUserID  *uuid.UUID      `json:"maker_user_id,omitempty"`
}

func (SaveTrade) Kind() string { return "save_trade" }

// NewSaveTrade builds the intent for t.
func NewSaveTrade(t Trade) SaveTrade {
	return SaveTrade{
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		Timestamp:    t.Timestamp,
		UserID:       t.TakerUserID,
		MakerUserID:  t.MakerUserID,
	}
}

// Trade converts the intent back into a Trade.
func (s SaveTrade) Trade() Trade {
	return Trade{
		MakerOrderID: s.MakerOrderID,
		TakerOrderID: s.TakerOrderID,
		Price:        s.Price,
		Quantity:     s.Quantity,
		Timestamp:    s.Timestamp,
		MakerUserID:  s.MakerUserID,
		TakerUserID:  s.UserID,
	}
}

// Involves reports whether user is the maker or taker owner of the trade.
func (s SaveTrade) Involves(user uuid.UUID) bool {
	return (s.UserID != nil && *s.UserID == user) || (s.MakerUserID != nil && *s.MakerUserID == user)
}
