package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

const (
	DefaultTradesLimit = 50
	MaxTradesLimit     = 500
)

// TradeHistory is the persisted per-user trade record.
type TradeHistory interface {
	UserTrades(ctx context.Context, user uuid.UUID, limit int) ([]domain.Trade, error)
}

// AssetBalance is one entry of a BalanceResponse.
type AssetBalance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// BalanceResponse represents the response for GET /balance.
type BalanceResponse struct {
	UserID   uuid.UUID      `json:"user_id"`
	Balances []AssetBalance `json:"balances"`
}

// AccountService answers per-user queries.
type AccountService struct {
	exchange Exchange
	history  TradeHistory
}

// NewAccountService creates a new AccountService.
func NewAccountService(exchange Exchange, history TradeHistory) *AccountService {
	return &AccountService{exchange: exchange, history: history}
}

// Balances reads the user's balances from the engine's ledger, which is
// authoritative while the process runs.
func (s *AccountService) Balances(ctx context.Context, user uuid.UUID) (*BalanceResponse, error) {
	balances, err := s.exchange.Balances(ctx, user)
	if err != nil {
		return nil, err
	}

	resp := &BalanceResponse{
		UserID:   user,
		Balances: make([]AssetBalance, len(balances)),
	}
	for i, b := range balances {
		resp.Balances[i] = AssetBalance{
			Asset:     b.Asset,
			Available: b.Available,
			Locked:    b.Locked,
		}
	}
	return resp, nil
}

// Trades returns the user's persisted trades, newest first. Trades still
// queued for persistence are not visible yet.
func (s *AccountService) Trades(ctx context.Context, user uuid.UUID, limit int) ([]domain.Trade, error) {
	if limit < 1 || limit > MaxTradesLimit {
		return nil, &domain.ValidationError{
			Message: "limit must be between 1 and 500",
		}
	}

	trades, err := s.history.UserTrades(ctx, user, limit)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, nil
}
