package handler

import (
	"net/http"

	"github.com/efreitasn/spotexchange/internal/service"
)

// AccountHandler serves the caller's balances and trades.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// Balance handles GET /balance.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.accountSvc.Balances(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Trades handles GET /my-trades?limit=N.
func (h *AccountHandler) Trades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultTradesLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	trades, err := h.accountSvc.Trades(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, trades)
}
