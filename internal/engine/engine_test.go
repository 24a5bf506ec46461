package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/account"
	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	intents []domain.Intent
	closed  bool
}

func (s *recordingSink) Emit(i domain.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, i)
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) all() []domain.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Intent(nil), s.intents...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []domain.OrderBookSnapshot
	closed    bool
}

func (p *recordingPublisher) Publish(s domain.OrderBookSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

type testEnv struct {
	engine    *Engine
	sink      *recordingSink
	publisher *recordingPublisher
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEngine starts an engine over a ledger pre-loaded with balances.
func startEngine(cfg Config, balances ...domain.Balance) *testEnv {
	accounts := account.NewManager()
	accounts.LoadAll(balances)
	env := &testEnv{sink: &recordingSink{}, publisher: &recordingPublisher{}}
	env.engine = New(cfg, accounts, env.sink, env.publisher, discardLogger(), metrics.New("test"))
	env.engine.Start()
	return env
}

func (env *testEnv) stop() {
	env.engine.Close()
	<-env.engine.Done()
}

func newTestEngine(t *testing.T, cfg Config, balances ...domain.Balance) *testEnv {
	t.Helper()
	env := startEngine(cfg, balances...)
	t.Cleanup(env.stop)
	return env
}

func funds(user uuid.UUID, asset, amount string) domain.Balance {
	return domain.Balance{UserID: user, Asset: asset, Available: dec(amount), Locked: decimal.Zero}
}

func owned(o domain.Order, user uuid.UUID) domain.Order {
	o.UserID = &user
	return o
}

func balanceOf(t *testing.T, e *Engine, user uuid.UUID, asset string) domain.Balance {
	t.Helper()
	bs, err := e.Balances(context.Background(), user)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	for _, b := range bs {
		if b.Asset == asset {
			return b
		}
	}
	t.Fatalf("no %s balance for %s", asset, user)
	return domain.Balance{}
}

func assertBalance(t *testing.T, e *Engine, user uuid.UUID, asset, available, locked string) {
	t.Helper()
	b := balanceOf(t, e, user, asset)
	if !b.Available.Equal(dec(available)) || !b.Locked.Equal(dec(locked)) {
		t.Errorf("%s balance = (%s, %s), want (%s, %s)", asset, b.Available, b.Locked, available, locked)
	}
}

func TestPlaceOrder_RestsAndLocks(t *testing.T) {
	buyer := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(buyer, domain.QuoteAsset, "1000"))
	ctx := context.Background()

	trades, err := env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideBuy, "100", 5), buyer))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected 0 trades, got %d", len(trades))
	}
	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "500", "500")

	intents := env.sink.all()
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	ub, ok := intents[0].(domain.UpdateBalance)
	if !ok || ub.Asset != domain.QuoteAsset || !ub.Locked.Equal(dec("500")) {
		t.Errorf("intent = %+v, want UpdateBalance USDC locked 500", intents[0])
	}

	snap, err := env.engine.OrderBook(ctx)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Orders[0].ID != 1 {
		t.Errorf("bids = %+v", snap.Bids)
	}
	if env.publisher.count() != 1 {
		t.Errorf("published %d snapshots, want 1", env.publisher.count())
	}
}

func TestPlaceOrder_FullMatchSettlesBothSides(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(buyer, domain.QuoteAsset, "1000"),
		funds(seller, domain.BaseAsset, "10"),
	)
	ctx := context.Background()

	if _, err := env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "100", 10), seller)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	trades, err := env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideBuy, "100", 10), buyer))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 10 || !trades[0].Price.Equal(dec("100")) {
		t.Fatalf("trades = %+v", trades)
	}

	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "0", "0")
	assertBalance(t, env.engine, buyer, domain.BaseAsset, "10", "0")
	assertBalance(t, env.engine, seller, domain.QuoteAsset, "1000", "0")
	assertBalance(t, env.engine, seller, domain.BaseAsset, "0", "0")
}

func TestPlaceOrder_PriceImprovementRefunded(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(buyer, domain.QuoteAsset, "1000"),
		funds(seller, domain.BaseAsset, "5"),
	)
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "99", 5), seller))
	trades, err := env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideBuy, "101", 5), buyer))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(trades) != 1 || !trades[0].Price.Equal(dec("99")) {
		t.Fatalf("trades = %+v", trades)
	}

	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "505", "0")
	assertBalance(t, env.engine, buyer, domain.BaseAsset, "5", "0")
	assertBalance(t, env.engine, seller, domain.QuoteAsset, "495", "0")
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	buyer := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(buyer, domain.QuoteAsset, "100"))
	ctx := context.Background()

	trades, err := env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideBuy, "100", 2), buyer))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if trades == nil || len(trades) != 0 {
		t.Errorf("trades = %v, want empty non-nil list", trades)
	}
	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "100", "0")

	snap, _ := env.engine.OrderBook(ctx)
	if len(snap.Bids) != 0 {
		t.Error("rejected order must not touch the book")
	}
	if len(env.sink.all()) != 0 {
		t.Error("rejected order must not emit intents")
	}
	if env.publisher.count() != 0 {
		t.Error("rejected order must not publish a snapshot")
	}
}

func TestPlaceOrder_OwnerlessOrdersSkipLedger(t *testing.T) {
	env := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, newLimit(1, domain.SideSell, "100", 5))
	trades, err := env.engine.PlaceOrder(ctx, newLimit(2, domain.SideBuy, "100", 5))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	intents := env.sink.all()
	if len(intents) != 1 {
		t.Fatalf("expected only the SaveTrade intent, got %d", len(intents))
	}
	st, ok := intents[0].(domain.SaveTrade)
	if !ok || st.UserID != nil {
		t.Errorf("intent = %+v, want ownerless SaveTrade", intents[0])
	}
}

func TestPlaceOrder_IntentOrder(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(buyer, domain.QuoteAsset, "100"),
		funds(seller, domain.BaseAsset, "1"),
	)
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "100", 1), seller))
	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideBuy, "100", 1), buyer))

	var kinds []string
	for _, i := range env.sink.all() {
		kinds = append(kinds, i.Kind())
	}
	want := []string{
		"update_balance", // seller lock
		"update_balance", // buyer lock
		"save_trade",
		"update_balance", "update_balance", // taker
		"update_balance", "update_balance", // maker
	}
	if len(kinds) != len(want) {
		t.Fatalf("intents = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("intent %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestPlaceOrder_MarketBuyReservesSweepCost(t *testing.T) {
	buyer, seller := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(buyer, domain.QuoteAsset, "1000"),
		funds(seller, domain.BaseAsset, "4"),
	)
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "100", 2), seller))
	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideSell, "110", 2), seller))

	trades, err := env.engine.PlaceOrder(ctx, owned(newMarket(3, domain.SideBuy, 3), buyer))
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "690", "0")
	assertBalance(t, env.engine, buyer, domain.BaseAsset, "3", "0")
}

func TestPlaceOrder_MarketBuyTooExpensiveRejected(t *testing.T) {
	buyer := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(buyer, domain.QuoteAsset, "150"))
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, newLimit(1, domain.SideSell, "100", 2))

	_, err := env.engine.PlaceOrder(ctx, owned(newMarket(2, domain.SideBuy, 2), buyer))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "150", "0")
}

func TestPlaceOrder_MarketNoLiquidity(t *testing.T) {
	buyer := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(buyer, domain.QuoteAsset, "100"))
	ctx := context.Background()

	trades, err := env.engine.PlaceOrder(ctx, owned(newMarket(1, domain.SideBuy, 5), buyer))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected 0 trades, got %d", len(trades))
	}
	snap, _ := env.engine.OrderBook(ctx)
	if len(snap.Bids)+len(snap.Asks) != 0 {
		t.Error("market order must not rest")
	}
	assertBalance(t, env.engine, buyer, domain.QuoteAsset, "100", "0")
}

func TestPlaceOrder_MarketSellReleasesRemainder(t *testing.T) {
	seller := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(seller, domain.BaseAsset, "10"))
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, newLimit(1, domain.SideBuy, "100", 4))

	trades, err := env.engine.PlaceOrder(ctx, owned(newMarket(2, domain.SideSell, 10), seller))
	if err != nil {
		t.Fatalf("market sell: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 4 {
		t.Fatalf("trades = %+v", trades)
	}
	assertBalance(t, env.engine, seller, domain.BaseAsset, "6", "0")
	assertBalance(t, env.engine, seller, domain.QuoteAsset, "400", "0")
}

func TestCancelOrder(t *testing.T) {
	owner := uuid.New()
	env := newTestEngine(t, DefaultConfig(), funds(owner, domain.QuoteAsset, "1000"))
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideBuy, "100", 10), owner))
	assertBalance(t, env.engine, owner, domain.QuoteAsset, "0", "1000")

	if _, err := env.engine.CancelOrder(ctx, 1, uuid.New()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("cancel by stranger err = %v, want ErrOrderNotFound", err)
	}

	o, err := env.engine.CancelOrder(ctx, 1, owner)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if o.ID != 1 || o.Quantity != 10 {
		t.Errorf("cancelled order = %+v", o)
	}
	assertBalance(t, env.engine, owner, domain.QuoteAsset, "1000", "0")

	if _, err := env.engine.CancelOrder(ctx, 1, owner); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("second cancel err = %v, want ErrOrderNotFound", err)
	}
	if _, err := env.engine.CancelOrder(ctx, 42, owner); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("unknown id err = %v, want ErrOrderNotFound", err)
	}
}

func TestCancelOrder_FailedCancelMutatesNothing(t *testing.T) {
	seller, buyer := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(seller, domain.BaseAsset, "10"),
		funds(buyer, domain.QuoteAsset, "1000"),
	)
	ctx := context.Background()

	// Order 1 is fully filled; order 3 stays resting.
	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "50", 4), seller))
	if trades, err := env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideBuy, "50", 4), buyer)); err != nil || len(trades) != 1 {
		t.Fatalf("fill: trades=%v err=%v", trades, err)
	}
	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(3, domain.SideSell, "60", 2), seller))

	before := map[uuid.UUID][]domain.Balance{}
	for _, u := range []uuid.UUID{seller, buyer} {
		bs, err := env.engine.Balances(ctx, u)
		if err != nil {
			t.Fatalf("Balances: %v", err)
		}
		before[u] = bs
	}
	intents := len(env.sink.all())
	snapshots := env.publisher.count()

	attempts := []struct {
		name  string
		id    uint64
		owner uuid.UUID
	}{
		{"filled order by owner", 1, seller},
		{"filled order by counterparty", 1, buyer},
		{"resting order by stranger", 3, buyer},
		{"unknown id", 99, seller},
	}
	for _, a := range attempts {
		o, err := env.engine.CancelOrder(ctx, a.id, a.owner)
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Errorf("%s: err = %v, want ErrOrderNotFound", a.name, err)
		}
		if o != nil {
			t.Errorf("%s: returned order %+v, want nil", a.name, o)
		}
	}

	for u, want := range before {
		got, err := env.engine.Balances(ctx, u)
		if err != nil {
			t.Fatalf("Balances: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("balances for %s = %v, want %v", u, got, want)
		}
		for i := range want {
			if got[i].Asset != want[i].Asset || !got[i].Available.Equal(want[i].Available) || !got[i].Locked.Equal(want[i].Locked) {
				t.Errorf("balance changed: %+v, want %+v", got[i], want[i])
			}
		}
	}
	if n := len(env.sink.all()); n != intents {
		t.Errorf("intents after failed cancels = %d, want %d", n, intents)
	}
	if n := env.publisher.count(); n != snapshots {
		t.Errorf("snapshots after failed cancels = %d, want %d", n, snapshots)
	}

	snap, _ := env.engine.OrderBook(ctx)
	if len(snap.Asks) != 1 {
		t.Errorf("resting order 3 must stay on the book, asks = %+v", snap.Asks)
	}
}

func TestCancelOrder_PartiallyFilledReleasesRemainder(t *testing.T) {
	seller, buyer := uuid.New(), uuid.New()
	env := newTestEngine(t, DefaultConfig(),
		funds(seller, domain.BaseAsset, "10"),
		funds(buyer, domain.QuoteAsset, "1000"),
	)
	ctx := context.Background()

	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(1, domain.SideSell, "50", 10), seller))
	_, _ = env.engine.PlaceOrder(ctx, owned(newLimit(2, domain.SideBuy, "50", 4), buyer))

	o, err := env.engine.CancelOrder(ctx, 1, seller)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if o.Quantity != 6 {
		t.Errorf("cancelled remaining = %d, want 6", o.Quantity)
	}
	assertBalance(t, env.engine, seller, domain.BaseAsset, "6", "0")
	assertBalance(t, env.engine, seller, domain.QuoteAsset, "200", "0")
}

func TestTrades_HistoryBounded(t *testing.T) {
	env := newTestEngine(t, Config{MailboxSize: 16, HistoryHighWater: 5, HistoryLowWater: 2})
	ctx := context.Background()

	for i := uint64(1); i <= 6; i++ {
		_, _ = env.engine.PlaceOrder(ctx, newLimit(2*i, domain.SideSell, "100", 1))
		if _, err := env.engine.PlaceOrder(ctx, newLimit(2*i+1, domain.SideBuy, "100", 1)); err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
	}

	trades, err := env.engine.Trades(ctx)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("history length = %d, want 2", len(trades))
	}
	if trades[1].TakerOrderID != 13 {
		t.Errorf("newest taker = %d, want 13", trades[1].TakerOrderID)
	}
}

func TestEngine_CloseCascades(t *testing.T) {
	accounts := account.NewManager()
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	e := New(DefaultConfig(), accounts, sink, pub, discardLogger(), metrics.New("test"))
	e.Start()

	e.Close()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	if !sink.closed || !pub.closed {
		t.Error("closing the engine must close the sink and the publisher")
	}
	if _, err := e.PlaceOrder(context.Background(), newLimit(1, domain.SideBuy, "1", 1)); !errors.Is(err, domain.ErrEngineClosed) {
		t.Errorf("PlaceOrder after close err = %v, want ErrEngineClosed", err)
	}
}

func TestEngine_BackpressureHonoursContext(t *testing.T) {
	e := New(Config{MailboxSize: 1, HistoryHighWater: 10, HistoryLowWater: 5},
		account.NewManager(), &recordingSink{}, &recordingPublisher{}, discardLogger(), metrics.New("test"))
	// Not started: the first message fills the mailbox and nothing drains it.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.OrderBook(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first call err = %v, want DeadlineExceeded", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = e.Trades(ctx2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked send err = %v, want DeadlineExceeded", err)
	}

	e.Start()
	e.Close()
	<-e.Done()
}

func TestEngine_ConcurrentClientsSerialized(t *testing.T) {
	env := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	ids := domain.NewIDGenerator(0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			side := domain.SideBuy
			if w%2 == 1 {
				side = domain.SideSell
			}
			for i := 0; i < 50; i++ {
				if _, err := env.engine.PlaceOrder(ctx, newLimit(ids.Next(), side, "100", 1)); err != nil {
					t.Errorf("PlaceOrder: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	snap, err := env.engine.OrderBook(ctx)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	trades, _ := env.engine.Trades(ctx)
	var resting int
	for _, l := range append(snap.Bids, snap.Asks...) {
		resting += len(l.Orders)
	}
	// 200 buys and 200 sells of size 1 at one price: each trade consumes one of each.
	if resting+2*len(trades) != 400 {
		t.Errorf("resting %d + 2*trades %d != 400", resting, len(trades))
	}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		t.Error("book crossed after concurrent flow")
	}
}
