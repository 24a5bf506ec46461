package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a registered participant on the exchange.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is a user's position in a single asset. Locked holds funds
// reserved against open orders; Available is free to be reserved.
type Balance struct {
	UserID    uuid.UUID       `json:"user_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
