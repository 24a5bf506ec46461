package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	UserID   uuid.UUID
	Side     domain.Side
	Type     domain.OrderType // defaults to Limit when empty
	Price    string           // required for limit, ignored for market
	Quantity uint64
}

// OrderResult is the outcome of a submitted order: the order as accepted
// and the trades it produced as taker.
type OrderResult struct {
	Order  domain.Order   `json:"order"`
	Trades []domain.Trade `json:"trades"`
}

// OrderService handles order submission and cancellation.
type OrderService struct {
	exchange Exchange
	ids      *domain.IDGenerator
}

// NewOrderService creates a new OrderService. ids is shared with every
// other producer of orders so ids stay unique.
func NewOrderService(exchange Exchange, ids *domain.IDGenerator) *OrderService {
	return &OrderService{exchange: exchange, ids: ids}
}

// SubmitOrder validates the request, assigns an order id and hands the
// order to the engine. A rejected order returns ErrInsufficientFunds.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*OrderResult, error) {
	order, err := s.buildOrder(req)
	if err != nil {
		return nil, err
	}

	trades, err := s.exchange.PlaceOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	return &OrderResult{Order: order, Trades: trades}, nil
}

func (s *OrderService) buildOrder(req SubmitOrderRequest) (domain.Order, error) {
	if req.Type == "" {
		req.Type = domain.OrderTypeLimit
	}
	if !req.Type.Valid() {
		return domain.Order{}, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: Limit, Market", req.Type),
		}
	}

	if !req.Side.Valid() {
		return domain.Order{}, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown side: %s. Must be one of: Buy, Sell", req.Side),
		}
	}

	if req.Quantity == 0 {
		return domain.Order{}, &domain.ValidationError{
			Message: "quantity must be a positive integer",
		}
	}

	price := decimal.Zero
	if req.Type == domain.OrderTypeLimit {
		if req.Price == "" {
			return domain.Order{}, &domain.ValidationError{
				Message: "price is required for limit orders",
			}
		}
		p, err := domain.ParsePrice(req.Price)
		if err != nil {
			return domain.Order{}, &domain.ValidationError{Message: err.Error()}
		}
		price = p
	}

	user := req.UserID
	return domain.Order{
		ID:       s.ids.Next(),
		Price:    price,
		Quantity: req.Quantity,
		Side:     req.Side,
		Type:     req.Type,
		UserID:   &user,
	}, nil
}

// CancelOrder removes the user's resting order. Orders that are unknown,
// already gone or owned by someone else all report ErrOrderNotFound.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uint64, user uuid.UUID) (*domain.Order, error) {
	return s.exchange.CancelOrder(ctx, orderID, user)
}
