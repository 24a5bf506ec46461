package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// decimalText accepts a decimal written either as a JSON string or as a
// bare JSON number and keeps its exact text.
type decimalText string

func (d *decimalText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalText(s)
		return nil
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*d = decimalText(b)
		return nil
	default:
		return fmt.Errorf("price must be a number or a numeric string")
	}
}

// submitOrderRequest is the JSON request body for POST /order.
type submitOrderRequest struct {
	Price     decimalText `json:"price"`
	Quantity  uint64      `json:"quantity"`
	Side      string      `json:"side"`
	OrderType string      `json:"order_type"`
}

// SubmitOrder handles POST /order.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		UserID:   userFrom(r.Context()),
		Side:     domain.Side(req.Side),
		Type:     domain.OrderType(req.OrderType),
		Price:    string(req.Price),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, res)
}

// CancelOrder handles DELETE /order/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseUint(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "order_id must be a positive integer")
		return
	}

	order, err := h.orderSvc.CancelOrder(r.Context(), orderID, userFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, order)
}
