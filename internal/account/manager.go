// Package account implements the exchange ledger: per-user, per-asset
// balances split into available and locked funds.
package account

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

type key struct {
	user  uuid.UUID
	asset string
}

type entry struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

// Manager owns every balance. It is not safe for concurrent use; the
// engine actor is its only caller.
type Manager struct {
	balances map[key]*entry
}

// NewManager creates an empty ledger.
func NewManager() *Manager {
	return &Manager{balances: make(map[key]*entry)}
}

// Load sets a balance, replacing any existing value.
func (m *Manager) Load(b domain.Balance) {
	m.balances[key{b.UserID, b.Asset}] = &entry{available: b.Available, locked: b.Locked}
}

// LoadAll loads a batch of balances, typically the store snapshot read at startup.
func (m *Manager) LoadAll(bs []domain.Balance) {
	for _, b := range bs {
		m.Load(b)
	}
}

func (m *Manager) get(user uuid.UUID, asset string) *entry {
	k := key{user, asset}
	e, ok := m.balances[k]
	if !ok {
		e = &entry{}
		m.balances[k] = e
	}
	return e
}

// Balance returns the (user, asset) balance, zero when unknown.
func (m *Manager) Balance(user uuid.UUID, asset string) domain.Balance {
	b := domain.Balance{UserID: user, Asset: asset, Available: decimal.Zero, Locked: decimal.Zero}
	if e, ok := m.balances[key{user, asset}]; ok {
		b.Available, b.Locked = e.available, e.locked
	}
	return b
}

// Balances returns every balance held by user, sorted by asset. Assets
// the exchange lists are always present, zero when never funded.
func (m *Manager) Balances(user uuid.UUID) []domain.Balance {
	seen := make(map[string]bool, len(domain.Assets))
	var out []domain.Balance
	for _, asset := range domain.Assets {
		out = append(out, m.Balance(user, asset))
		seen[asset] = true
	}
	for k := range m.balances {
		if k.user == user && !seen[k.asset] {
			out = append(out, m.Balance(user, k.asset))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// TryLock reserves the funds an order needs: price × quantity of the quote
// asset for a buy, quantity of the base asset for a sell. It returns
// domain.ErrInsufficientFunds and leaves the ledger untouched when the
// available balance is short.
func (m *Manager) TryLock(user uuid.UUID, side domain.Side, price decimal.Decimal, quantity uint64) error {
	if side == domain.SideBuy {
		return m.TryLockAmount(user, domain.QuoteAsset, domain.Notional(price, quantity))
	}
	return m.TryLockAmount(user, domain.BaseAsset, decimal.NewFromUint64(quantity))
}

// TryLockAmount moves amount of asset from available to locked.
func (m *Manager) TryLockAmount(user uuid.UUID, asset string, amount decimal.Decimal) error {
	e := m.get(user, asset)
	if e.available.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	e.available = e.available.Sub(amount)
	e.locked = e.locked.Add(amount)
	return nil
}

// Release moves amount of asset from locked back to available.
func (m *Manager) Release(user uuid.UUID, asset string, amount decimal.Decimal) {
	e := m.get(user, asset)
	e.locked = e.locked.Sub(amount)
	e.available = e.available.Add(amount)
}

// Settle finalizes a fill for one party. A buyer pays price × quantity of
// quote out of locked and receives quantity of base; a seller pays
// quantity of base out of locked and receives price × quantity of quote.
func (m *Manager) Settle(user uuid.UUID, side domain.Side, price decimal.Decimal, quantity uint64) {
	qty := decimal.NewFromUint64(quantity)
	value := domain.Notional(price, quantity)

	base := m.get(user, domain.BaseAsset)
	quote := m.get(user, domain.QuoteAsset)
	if side == domain.SideBuy {
		quote.locked = quote.locked.Sub(value)
		base.available = base.available.Add(qty)
		return
	}
	base.locked = base.locked.Sub(qty)
	quote.available = quote.available.Add(value)
}
