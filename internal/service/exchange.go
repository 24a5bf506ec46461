package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// Exchange is the engine surface the gateway services depend on.
// *engine.Engine satisfies it.
type Exchange interface {
	PlaceOrder(ctx context.Context, order domain.Order) ([]domain.Trade, error)
	CancelOrder(ctx context.Context, orderID uint64, owner uuid.UUID) (*domain.Order, error)
	OrderBook(ctx context.Context) (domain.OrderBookSnapshot, error)
	Trades(ctx context.Context) ([]domain.Trade, error)
	Balances(ctx context.Context, user uuid.UUID) ([]domain.Balance, error)
}
