package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

const (
	DefaultDepthLevels = 10
	MaxDepthLevels     = 50
)

// DepthResponse is the aggregated view of the top levels of the book.
type DepthResponse struct {
	Bids       []domain.DepthLevel `json:"bids"`
	Asks       []domain.DepthLevel `json:"asks"`
	Spread     *decimal.Decimal    `json:"spread"` // nil if either side empty
	SnapshotAt time.Time           `json:"snapshot_at"`
}

// TickerResponse summarizes recent market activity.
type TickerResponse struct {
	LastPrice      *decimal.Decimal `json:"last_price"` // nil when no trades ever
	VWAP           *decimal.Decimal `json:"vwap"`       // nil when no trades in window
	Window         string           `json:"window"`
	TradesInWindow int              `json:"trades_in_window"`
	VolumeInWindow uint64           `json:"volume_in_window"`
	BestBid        *decimal.Decimal `json:"best_bid"`
	BestAsk        *decimal.Decimal `json:"best_ask"`
	LastTradeAt    *time.Time       `json:"last_trade_at"`
}

// MarketService answers public market-data queries.
type MarketService struct {
	exchange Exchange
	window   time.Duration
	now      func() time.Time
}

// NewMarketService creates a MarketService whose ticker averages over the
// given window of recent trades.
func NewMarketService(exchange Exchange, window time.Duration) *MarketService {
	return &MarketService{exchange: exchange, window: window, now: time.Now}
}

// OrderBook returns the full book snapshot.
func (s *MarketService) OrderBook(ctx context.Context) (domain.OrderBookSnapshot, error) {
	return s.exchange.OrderBook(ctx)
}

// Trades returns the engine's bounded trade history, oldest first.
func (s *MarketService) Trades(ctx context.Context) ([]domain.Trade, error) {
	trades, err := s.exchange.Trades(ctx)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, nil
}

// Depth returns the top levels of each side of the book.
func (s *MarketService) Depth(ctx context.Context, levels int) (*DepthResponse, error) {
	if levels < 1 || levels > MaxDepthLevels {
		return nil, &domain.ValidationError{
			Message: "levels must be between 1 and 50",
		}
	}

	snap, err := s.exchange.OrderBook(ctx)
	if err != nil {
		return nil, err
	}

	bids, asks := snap.Depth(levels)
	resp := &DepthResponse{
		Bids:       bids,
		Asks:       asks,
		SnapshotAt: s.now(),
	}

	// spread = best ask - best bid
	bestBid, okBid := snap.BestBid()
	bestAsk, okAsk := snap.BestAsk()
	if okBid && okAsk {
		spread := bestAsk.Sub(bestBid)
		resp.Spread = &spread
	}

	return resp, nil
}

// Ticker returns the last trade price, the volume-weighted average price
// over the configured window and the current touch.
func (s *MarketService) Ticker(ctx context.Context) (*TickerResponse, error) {
	trades, err := s.exchange.Trades(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.exchange.OrderBook(ctx)
	if err != nil {
		return nil, err
	}

	resp := computeTicker(trades, s.now().Add(-s.window))
	resp.Window = s.window.String()
	if p, ok := snap.BestBid(); ok {
		resp.BestBid = &p
	}
	if p, ok := snap.BestAsk(); ok {
		resp.BestAsk = &p
	}
	return resp, nil
}

// computeTicker walks trades newest to oldest until one falls before
// windowStart. trades must be in execution order.
func computeTicker(trades []domain.Trade, windowStart time.Time) *TickerResponse {
	resp := &TickerResponse{}
	if len(trades) == 0 {
		return resp
	}

	last := trades[len(trades)-1]
	lastPrice := last.Price
	lastAt := last.ExecutedAt()
	resp.LastPrice = &lastPrice
	resp.LastTradeAt = &lastAt

	sumPQ := decimal.Zero
	var sumQ uint64
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExecutedAt().Before(windowStart) {
			break
		}
		sumPQ = sumPQ.Add(t.Value())
		sumQ += t.Quantity
		resp.TradesInWindow++
	}
	resp.VolumeInWindow = sumQ

	if sumQ > 0 {
		vwap := sumPQ.Div(decimal.NewFromUint64(sumQ)).Round(domain.MaxPriceScale)
		resp.VWAP = &vwap
	}
	return resp
}
