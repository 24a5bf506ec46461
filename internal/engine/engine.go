package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/account"
	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/metrics"
)

// IntentSink receives persistence intents in emission order. Emit must
// not wait for the intent to be applied.
type IntentSink interface {
	Emit(domain.Intent)
	Close()
}

// SnapshotPublisher distributes order-book snapshots to subscribers.
// Publish must not block.
type SnapshotPublisher interface {
	Publish(domain.OrderBookSnapshot)
	Close()
}

// Config holds the engine's tunables.
type Config struct {
	MailboxSize      int
	HistoryHighWater int
	HistoryLowWater  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MailboxSize:      10000,
		HistoryHighWater: 5000,
		HistoryLowWater:  2000,
	}
}

// Engine is the single writer of the order book, the ledger and the
// trade history. All access goes through its mailbox and is processed
// one message at a time, in arrival order, by the goroutine started
// with Start.
type Engine struct {
	mailbox   chan message
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	book     *OrderBook
	accounts *account.Manager
	history  *tradeHistory
	sink     IntentSink
	fanout   SnapshotPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates an engine that takes ownership of accounts. The caller must
// not touch accounts after this call.
func New(cfg Config, accounts *account.Manager, sink IntentSink, fanout SnapshotPublisher, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		mailbox:  make(chan message, cfg.MailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		book:     NewOrderBook(),
		accounts: accounts,
		history:  newTradeHistory(cfg.HistoryHighWater, cfg.HistoryLowWater),
		sink:     sink,
		fanout:   fanout,
		logger:   logger.With(slog.String("component", "engine")),
		metrics:  m,
	}
}

// Start launches the actor goroutine.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

// Close stops accepting messages. Messages already in the mailbox are
// processed, then the intent sink and the snapshot publisher are closed
// and Done is closed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
}

// Done is closed once the actor has exited and its collaborators are closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.fanout.Close()
	defer e.sink.Close()

	e.logger.Info("engine started")
	for {
		select {
		case msg := <-e.mailbox:
			e.handle(msg)
		case <-e.quit:
			for {
				select {
				case msg := <-e.mailbox:
					e.handle(msg)
				default:
					e.logger.Info("engine stopped")
					return
				}
			}
		}
	}
}

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case placeOrderMsg:
		res := e.placeOrder(m.order)
		m.reply <- res
		if res.err == nil {
			e.fanout.Publish(e.book.Snapshot())
		}
	case cancelOrderMsg:
		o := e.cancelOrder(m.orderID, m.owner)
		m.reply <- o
		if o != nil {
			e.fanout.Publish(e.book.Snapshot())
		}
	case getOrderBookMsg:
		m.reply <- e.book.Snapshot()
	case getTradesMsg:
		m.reply <- e.history.snapshot()
	case getBalancesMsg:
		m.reply <- e.accounts.Balances(m.user)
	}
	e.metrics.UpdateEngineState(len(e.mailbox), e.history.len(), e.book.Len())
}

// placeOrder reserves the owner's funds, matches the order, settles every
// resulting trade and records it in the history.
func (e *Engine) placeOrder(order domain.Order) placeResult {
	start := time.Now()

	// Step 1: Validate and reserve.
	if order.UserID != nil {
		if err := e.reserve(order); err != nil {
			e.metrics.RecordOrder(string(order.Type), "rejected", time.Since(start))
			e.logger.Debug("order rejected",
				slog.Uint64("order_id", order.ID),
				slog.String("user_id", order.UserID.String()),
				slog.String("reason", err.Error()),
			)
			return placeResult{trades: []domain.Trade{}, err: err}
		}
		e.emitBalance(*order.UserID, order.Side.LockedAsset())
	}

	// Step 2: Match.
	trades := e.book.Process(order)

	// Step 3: Settle.
	var filled uint64
	for _, t := range trades {
		filled += t.Quantity
		e.settle(order, t)
	}

	// Release the unfilled reservation of a market sell.
	if order.UserID != nil && order.IsMarket() && order.Side == domain.SideSell && filled < order.Quantity {
		e.accounts.Release(*order.UserID, domain.BaseAsset, decimal.NewFromUint64(order.Quantity-filled))
		e.emitBalance(*order.UserID, domain.BaseAsset)
	}

	// Step 4: Record.
	e.history.append(trades)
	e.metrics.RecordOrder(string(order.Type), "accepted", time.Since(start))
	e.metrics.RecordTrades(len(trades))

	if trades == nil {
		trades = []domain.Trade{}
	}
	return placeResult{trades: trades}
}

// reserve locks the funds order needs. A market buy has no limit price,
// so it reserves the exact cost of sweeping the current asks.
func (e *Engine) reserve(order domain.Order) error {
	user := *order.UserID
	if order.IsMarket() && order.Side == domain.SideBuy {
		cost, _ := e.book.MarketBuyCost(order.Quantity)
		return e.accounts.TryLockAmount(user, domain.QuoteAsset, cost)
	}
	return e.accounts.TryLock(user, order.Side, order.Price, order.Quantity)
}

func (e *Engine) settle(taker domain.Order, t domain.Trade) {
	if t.TakerUserID != nil {
		user := *t.TakerUserID
		e.accounts.Settle(user, taker.Side, t.Price, t.Quantity)
		// A limit buy reserved at its own price; refund the improvement.
		if taker.Side == domain.SideBuy && !taker.IsMarket() && taker.Price.GreaterThan(t.Price) {
			e.accounts.Release(user, domain.QuoteAsset, domain.Notional(taker.Price.Sub(t.Price), t.Quantity))
		}
	}
	if t.MakerUserID != nil {
		e.accounts.Settle(*t.MakerUserID, taker.Side.Opposite(), t.Price, t.Quantity)
	}

	e.sink.Emit(domain.NewSaveTrade(t))
	if t.TakerUserID != nil {
		e.emitBalance(*t.TakerUserID, domain.QuoteAsset)
		e.emitBalance(*t.TakerUserID, domain.BaseAsset)
	}
	if t.MakerUserID != nil {
		e.emitBalance(*t.MakerUserID, domain.QuoteAsset)
		e.emitBalance(*t.MakerUserID, domain.BaseAsset)
	}
}

func (e *Engine) cancelOrder(id uint64, owner uuid.UUID) *domain.Order {
	o, ok := e.book.Cancel(id, owner)
	e.metrics.RecordCancel(ok)
	if !ok {
		return nil
	}

	asset := o.Side.LockedAsset()
	if o.Side == domain.SideBuy {
		e.accounts.Release(owner, asset, o.Notional())
	} else {
		e.accounts.Release(owner, asset, decimal.NewFromUint64(o.Quantity))
	}
	e.emitBalance(owner, asset)
	return &o
}

func (e *Engine) emitBalance(user uuid.UUID, asset string) {
	e.sink.Emit(domain.UpdateBalance{Balance: e.accounts.Balance(user, asset)})
}

// send delivers msg and waits for its reply. It blocks while the mailbox
// is full, until ctx is done or the engine is closed.
func send[T any](ctx context.Context, e *Engine, msg message, reply chan T) (T, error) {
	var zero T

	select {
	case <-e.quit:
		return zero, domain.ErrEngineClosed
	default:
	}

	select {
	case e.mailbox <- msg:
	case <-e.quit:
		return zero, domain.ErrEngineClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-e.done:
		// The actor may have replied right before exiting.
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, domain.ErrEngineClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// PlaceOrder submits order and returns the trades it produced. A rejected
// order yields an empty trade list together with the rejection error
// (domain.ErrInsufficientFunds). When ctx ends after the order was queued,
// ctx.Err() is returned and the order may still have executed.
func (e *Engine) PlaceOrder(ctx context.Context, order domain.Order) ([]domain.Trade, error) {
	reply := make(chan placeResult, 1)
	res, err := send(ctx, e, placeOrderMsg{order: order, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return res.trades, res.err
}

// CancelOrder removes a resting order owned by owner and releases its
// reservation. It returns domain.ErrOrderNotFound both when the order does
// not exist and when it belongs to someone else.
func (e *Engine) CancelOrder(ctx context.Context, orderID uint64, owner uuid.UUID) (*domain.Order, error) {
	reply := make(chan *domain.Order, 1)
	o, err := send(ctx, e, cancelOrderMsg{orderID: orderID, owner: owner, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// OrderBook returns a snapshot of the book.
func (e *Engine) OrderBook(ctx context.Context) (domain.OrderBookSnapshot, error) {
	reply := make(chan domain.OrderBookSnapshot, 1)
	return send(ctx, e, getOrderBookMsg{reply: reply}, reply)
}

// Trades returns a copy of the recent trade history, oldest first.
func (e *Engine) Trades(ctx context.Context) ([]domain.Trade, error) {
	reply := make(chan []domain.Trade, 1)
	return send(ctx, e, getTradesMsg{reply: reply}, reply)
}

// Balances returns the user's balances as held by the ledger.
func (e *Engine) Balances(ctx context.Context, user uuid.UUID) ([]domain.Balance, error) {
	reply := make(chan []domain.Balance, 1)
	return send(ctx, e, getBalancesMsg{user: user, reply: reply}, reply)
}
