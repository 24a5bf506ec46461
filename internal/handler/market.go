package handler

import (
	"net/http"

	"github.com/efreitasn/spotexchange/internal/service"
)

// MarketHandler serves public market data.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// OrderBook handles GET /orderbook.
func (h *MarketHandler) OrderBook(w http.ResponseWriter, r *http.Request) {
	snap, err := h.marketSvc.OrderBook(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Depth handles GET /orderbook/depth?levels=N.
func (h *MarketHandler) Depth(w http.ResponseWriter, r *http.Request) {
	levels, err := queryInt(r, "levels", service.DefaultDepthLevels)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.marketSvc.Depth(r.Context(), levels)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Trades handles GET /trades.
func (h *MarketHandler) Trades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.marketSvc.Trades(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, trades)
}

// Ticker handles GET /ticker.
func (h *MarketHandler) Ticker(w http.ResponseWriter, r *http.Request) {
	resp, err := h.marketSvc.Ticker(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
