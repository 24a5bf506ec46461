package engine

import "github.com/efreitasn/spotexchange/internal/domain"

// tradeHistory keeps the most recent trades. Once its length exceeds
// highWater, the oldest trades are discarded down to lowWater.
type tradeHistory struct {
	trades    []domain.Trade
	highWater int
	lowWater  int
}

func newTradeHistory(highWater, lowWater int) *tradeHistory {
	return &tradeHistory{highWater: highWater, lowWater: lowWater}
}

func (h *tradeHistory) append(trades []domain.Trade) {
	h.trades = append(h.trades, trades...)
	if len(h.trades) > h.highWater {
		kept := make([]domain.Trade, h.lowWater)
		copy(kept, h.trades[len(h.trades)-h.lowWater:])
		h.trades = kept
	}
}

func (h *tradeHistory) snapshot() []domain.Trade {
	out := make([]domain.Trade, len(h.trades))
	copy(out, h.trades)
	return out
}

func (h *tradeHistory) len() int {
	return len(h.trades)
}
