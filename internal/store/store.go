// Package store persists users, balances and executed trades.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Store is the durable side of the exchange. Implementations are safe for
// concurrent use.
type Store interface {
	// EnsureUser returns the user named username, creating it with the
	// given per-asset funding when it does not exist yet.
	EnsureUser(ctx context.Context, username string, funding map[string]decimal.Decimal) (domain.User, error)
	UpdateBalance(ctx context.Context, b domain.Balance) error
	SaveTrade(ctx context.Context, t domain.SaveTrade) error
	// Balances returns the user's balances sorted by asset.
	Balances(ctx context.Context, user uuid.UUID) ([]domain.Balance, error)
	// AllBalances returns every stored balance.
	AllBalances(ctx context.Context) ([]domain.Balance, error)
	// UserTrades returns up to limit trades the user took part in, newest first.
	UserTrades(ctx context.Context, user uuid.UUID, limit int) ([]domain.Trade, error)
	Close() error
}

func fundingBalances(user uuid.UUID, funding map[string]decimal.Decimal) []domain.Balance {
	out := make([]domain.Balance, 0, len(funding))
	for asset, amount := range funding {
		out = append(out, domain.Balance{
			UserID:    user,
			Asset:     asset,
			Available: amount,
			Locked:    decimal.Zero,
		})
	}
	return out
}
