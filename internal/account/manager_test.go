package account

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fund(m *Manager, user uuid.UUID, asset, amount string) {
	m.Load(domain.Balance{UserID: user, Asset: asset, Available: d(amount), Locked: decimal.Zero})
}

func assertBalance(t *testing.T, m *Manager, user uuid.UUID, asset, available, locked string) {
	t.Helper()
	b := m.Balance(user, asset)
	if !b.Available.Equal(d(available)) || !b.Locked.Equal(d(locked)) {
		t.Errorf("%s balance = (%s, %s), want (%s, %s)", asset, b.Available, b.Locked, available, locked)
	}
}

func TestBalance_UnknownIsZero(t *testing.T) {
	m := NewManager()
	b := m.Balance(uuid.New(), domain.QuoteAsset)
	if !b.Available.IsZero() || !b.Locked.IsZero() {
		t.Errorf("unknown balance = (%s, %s), want zeros", b.Available, b.Locked)
	}
}

func TestTryLock_Buy(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "1000")

	if err := m.TryLock(user, domain.SideBuy, d("100"), 5); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	assertBalance(t, m, user, domain.QuoteAsset, "500", "500")
}

func TestTryLock_Sell(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.BaseAsset, "10")

	if err := m.TryLock(user, domain.SideSell, d("100"), 4); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	assertBalance(t, m, user, domain.BaseAsset, "6", "4")
}

func TestTryLock_InsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "100")

	err := m.TryLock(user, domain.SideBuy, d("100"), 2)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("TryLock error = %v, want ErrInsufficientFunds", err)
	}
	assertBalance(t, m, user, domain.QuoteAsset, "100", "0")
}

func TestTryLock_ExactAmount(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "200")

	if err := m.TryLock(user, domain.SideBuy, d("100"), 2); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	assertBalance(t, m, user, domain.QuoteAsset, "0", "200")
}

func TestSettle_Buy(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "1000")
	_ = m.TryLock(user, domain.SideBuy, d("100"), 5)

	m.Settle(user, domain.SideBuy, d("100"), 3)

	assertBalance(t, m, user, domain.QuoteAsset, "500", "200")
	assertBalance(t, m, user, domain.BaseAsset, "3", "0")
}

func TestSettle_Sell(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.BaseAsset, "10")
	_ = m.TryLock(user, domain.SideSell, d("100"), 10)

	m.Settle(user, domain.SideSell, d("99.5"), 4)

	assertBalance(t, m, user, domain.BaseAsset, "0", "6")
	assertBalance(t, m, user, domain.QuoteAsset, "398", "0")
}

func TestRelease(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "1000")
	_ = m.TryLock(user, domain.SideBuy, d("100"), 10)

	m.Release(user, domain.QuoteAsset, d("1000"))

	assertBalance(t, m, user, domain.QuoteAsset, "1000", "0")
}

func TestBalances_IncludesListedAssets(t *testing.T) {
	m := NewManager()
	user := uuid.New()
	fund(m, user, domain.QuoteAsset, "10")

	got := m.Balances(user)
	if len(got) != 2 {
		t.Fatalf("Balances() returned %d entries, want 2", len(got))
	}
	if got[0].Asset != domain.BaseAsset || got[1].Asset != domain.QuoteAsset {
		t.Errorf("Balances() assets = %s, %s", got[0].Asset, got[1].Asset)
	}
	if !got[1].Available.Equal(d("10")) {
		t.Errorf("quote available = %s, want 10", got[1].Available)
	}
}
