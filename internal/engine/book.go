package engine

import (
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// priceLevel holds the orders resting at one price, oldest first.
type priceLevel struct {
	price  decimal.Decimal
	orders []*domain.Order
}

// bidLess orders the bid side by price descending, so Min() returns the
// best (highest) bid.
func bidLess(a, b *priceLevel) bool {
	return a.price.GreaterThan(b.price)
}

// askLess orders the ask side by price ascending, so Min() returns the
// best (lowest) ask.
func askLess(a, b *priceLevel) bool {
	return a.price.LessThan(b.price)
}

// OrderBook maintains the bid and ask sides of the market using B-trees
// of price levels, with a secondary index for lookup by order id.
//
// OrderBook is not safe for concurrent use. The engine actor owns it.
type OrderBook struct {
	bids  *btree.BTreeG[*priceLevel]
	asks  *btree.BTreeG[*priceLevel]
	index map[uint64]*domain.Order // order id → resting order

	now    func() time.Time
	lastTS int64
}

// NewOrderBook creates an empty order book.
func NewOrderBook() *OrderBook {
	const degree = 32
	return &OrderBook{
		bids:  btree.NewG[*priceLevel](degree, bidLess),
		asks:  btree.NewG[*priceLevel](degree, askLess),
		index: make(map[uint64]*domain.Order),
		now:   time.Now,
	}
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[*priceLevel] {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// timestamp returns unix milliseconds, never lower than a previous value.
func (ob *OrderBook) timestamp() int64 {
	ts := ob.now().UnixMilli()
	if ts < ob.lastTS {
		ts = ob.lastTS
	}
	ob.lastTS = ts
	return ts
}

// Process matches order against the opposite side of the book and returns
// the resulting trades in execution order. A limit remainder rests at the
// tail of its price level; a market remainder is discarded.
//
// Process assumes a well-formed order (quantity > 0, and price > 0 for
// limit orders). Validation is the caller's job.
func (ob *OrderBook) Process(order domain.Order) []domain.Trade {
	var trades []domain.Trade
	opposite := ob.side(order.Side.Opposite())

	for order.Quantity > 0 {
		// Step 1: Peek the best opposite level.
		level, ok := opposite.Min()
		if !ok {
			break
		}

		// Step 2: Check price compatibility (limit orders only).
		if !order.IsMarket() {
			if order.Side == domain.SideBuy && level.price.GreaterThan(order.Price) {
				break
			}
			if order.Side == domain.SideSell && level.price.LessThan(order.Price) {
				break
			}
		}

		// Step 3: Fill against the earliest order at the level.
		maker := level.orders[0]
		fillQty := min(order.Quantity, maker.Quantity)

		order.Quantity -= fillQty
		maker.Quantity -= fillQty

		trades = append(trades, domain.Trade{
			MakerOrderID: maker.ID,
			TakerOrderID: order.ID,
			Price:        maker.Price,
			Quantity:     fillQty,
			Timestamp:    ob.timestamp(),
			MakerUserID:  maker.UserID,
			TakerUserID:  order.UserID,
		})

		// Step 4: Drop the maker when exhausted, and the level when empty.
		if maker.Quantity == 0 {
			level.orders[0] = nil
			level.orders = level.orders[1:]
			delete(ob.index, maker.ID)
		}
		if len(level.orders) == 0 {
			opposite.Delete(level)
		}
	}

	// Step 5: Rest or discard.
	if order.Quantity > 0 && !order.IsMarket() {
		ob.rest(order)
	}

	return trades
}

func (ob *OrderBook) rest(order domain.Order) {
	tree := ob.side(order.Side)
	resting := &order

	level, ok := tree.Get(&priceLevel{price: order.Price})
	if !ok {
		level = &priceLevel{price: order.Price}
		tree.ReplaceOrInsert(level)
	}
	level.orders = append(level.orders, resting)
	ob.index[order.ID] = resting
}

// Cancel removes the resting order with the given id if it is owned by
// owner. It returns the removed order (with its remaining quantity) and
// true, or false when no such order exists or it belongs to someone else.
func (ob *OrderBook) Cancel(id uint64, owner uuid.UUID) (domain.Order, bool) {
	resting, ok := ob.index[id]
	if !ok || !resting.OwnedBy(owner) {
		return domain.Order{}, false
	}

	tree := ob.side(resting.Side)
	level, ok := tree.Get(&priceLevel{price: resting.Price})
	if !ok {
		return domain.Order{}, false
	}
	for i, o := range level.orders {
		if o.ID == id {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		tree.Delete(level)
	}
	delete(ob.index, id)
	return *resting, true
}

// Get returns a copy of the resting order with the given id.
func (ob *OrderBook) Get(id uint64) (domain.Order, bool) {
	resting, ok := ob.index[id]
	if !ok {
		return domain.Order{}, false
	}
	return *resting, true
}

// MarketBuyCost walks the asks from the best price and returns the quote
// amount needed to buy up to quantity, together with the quantity that
// the book can actually fill.
func (ob *OrderBook) MarketBuyCost(quantity uint64) (decimal.Decimal, uint64) {
	cost := decimal.Zero
	remaining := quantity
	ob.asks.Ascend(func(level *priceLevel) bool {
		for _, o := range level.orders {
			fillQty := min(remaining, o.Quantity)
			cost = cost.Add(domain.Notional(level.price, fillQty))
			remaining -= fillQty
			if remaining == 0 {
				return false
			}
		}
		return true
	})
	return cost, quantity - remaining
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	level, ok := ob.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := ob.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// Len returns the number of resting orders on both sides.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// Snapshot returns a deep copy of the book.
func (ob *OrderBook) Snapshot() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Bids: snapshotSide(ob.bids),
		Asks: snapshotSide(ob.asks),
	}
}

func snapshotSide(tree *btree.BTreeG[*priceLevel]) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, tree.Len())
	tree.Ascend(func(level *priceLevel) bool {
		orders := make([]domain.Order, len(level.orders))
		for i, o := range level.orders {
			orders[i] = *o
		}
		levels = append(levels, domain.BookLevel{Price: level.price, Orders: orders})
		return true
	})
	return levels
}
