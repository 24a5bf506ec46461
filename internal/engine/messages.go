package engine

import (
	"github.com/google/uuid"

	"github.com/efreitasn/spotexchange/internal/domain"
)

// message is anything the actor accepts on its mailbox. Each message
// carries a reply channel with capacity 1, so the actor never blocks on
// a caller that stopped waiting.
type message interface {
	isMessage()
}

type placeResult struct {
	trades []domain.Trade
	err    error
}

type placeOrderMsg struct {
	order domain.Order
	reply chan placeResult
}

type cancelOrderMsg struct {
	orderID uint64
	owner   uuid.UUID
	reply   chan *domain.Order
}

type getOrderBookMsg struct {
	reply chan domain.OrderBookSnapshot
}

type getTradesMsg struct {
	reply chan []domain.Trade
}

type getBalancesMsg struct {
	user  uuid.UUID
	reply chan []domain.Balance
}

func (placeOrderMsg) isMessage()   {}
func (cancelOrderMsg) isMessage()  {}
func (getOrderBookMsg) isMessage() {}
func (getTradesMsg) isMessage()    {}
func (getBalancesMsg) isMessage()  {}
