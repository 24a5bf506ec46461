package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

type balanceKey struct {
	user  uuid.UUID
	asset string
}

// MemoryStore is a thread-safe in-memory Store. Nothing survives a
// restart; it backs tests and runs without a data directory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // username → user
	balances map[balanceKey]domain.Balance
	trades   []domain.SaveTrade // chronological
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		balances: make(map[balanceKey]domain.Balance),
	}
}

func (s *MemoryStore) EnsureUser(ctx context.Context, username string, funding map[string]decimal.Decimal) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[username]; ok {
		return u, nil
	}
	u := domain.User{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
	s.users[username] = u
	for _, b := range fundingBalances(u.ID, funding) {
		s.balances[balanceKey{b.UserID, b.Asset}] = b
	}
	return u, nil
}

func (s *MemoryStore) UpdateBalance(ctx context.Context, b domain.Balance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[balanceKey{b.UserID, b.Asset}] = b
	return nil
}

func (s *MemoryStore) SaveTrade(ctx context.Context, t domain.SaveTrade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, t)
	return nil
}

func (s *MemoryStore) Balances(ctx context.Context, user uuid.UUID) ([]domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Balance{}
	for k, b := range s.balances {
		if k.user == user {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *MemoryStore) AllBalances(ctx context.Context) ([]domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	return out, nil
}

func (s *MemoryStore) UserTrades(ctx context.Context, user uuid.UUID, limit int) ([]domain.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Trade{}
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if s.trades[i].Involves(user) {
			out = append(out, s.trades[i].Trade())
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
