package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BookLevel is one price level of a snapshot, orders oldest first.
type BookLevel struct {
	Price  decimal.Decimal
	Orders []Order
}

// Quantity returns the total remaining quantity resting at the level.
func (l BookLevel) Quantity() uint64 {
	var total uint64
	for _, o := range l.Orders {
		total += o.Quantity
	}
	return total
}

// DepthLevel represents an aggregated price level in the order book.
type DepthLevel struct {
	Price         decimal.Decimal `json:"price"`
	TotalQuantity uint64          `json:"total_quantity"`
	OrderCount    int             `json:"order_count"`
}

// OrderBookSnapshot is an independent copy of the book. Bids are ordered
// by price descending and asks by price ascending.
//
// On the wire each side is a JSON object keyed by the level's decimal
// price string, with keys emitted in book order.
type OrderBookSnapshot struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BestBid returns the highest bid price.
func (s OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(s.Bids) == 0 {
		return decimal.Zero, false
	}
	return s.Bids[0].Price, true
}

// BestAsk returns the lowest ask price.
func (s OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(s.Asks) == 0 {
		return decimal.Zero, false
	}
	return s.Asks[0].Price, true
}

// Depth aggregates up to n levels per side.
func (s OrderBookSnapshot) Depth(n int) (bids, asks []DepthLevel) {
	return depth(s.Bids, n), depth(s.Asks, n)
}

func depth(levels []BookLevel, n int) []DepthLevel {
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]DepthLevel, 0, n)
	for _, l := range levels[:n] {
		out = append(out, DepthLevel{
			Price:         l.Price,
			TotalQuantity: l.Quantity(),
			OrderCount:    len(l.Orders),
		})
	}
	return out
}

func (s OrderBookSnapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"bids":`)
	if err := encodeLevels(&buf, s.Bids); err != nil {
		return nil, err
	}
	buf.WriteString(`,"asks":`)
	if err := encodeLevels(&buf, s.Asks); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeLevels(buf *bytes.Buffer, levels []BookLevel) error {
	buf.WriteByte('{')
	for i, l := range levels {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(l.Price.String())
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		orders := l.Orders
		if orders == nil {
			orders = []Order{}
		}
		val, err := json.Marshal(orders)
		if err != nil {
			return err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return nil
}

func (s *OrderBookSnapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Bids json.RawMessage `json:"bids"`
		Asks json.RawMessage `json:"asks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	bids, err := decodeLevels(raw.Bids)
	if err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	asks, err := decodeLevels(raw.Asks)
	if err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	s.Bids, s.Asks = bids, asks
	return nil
}

// decodeLevels walks the object token by token so the key order survives.
func decodeLevels(raw json.RawMessage) ([]BookLevel, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var levels []BookLevel
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected price key, got %v", tok)
		}
		price, err := decimal.NewFromString(key)
		if err != nil {
			return nil, fmt.Errorf("price key %q: %w", key, err)
		}
		var orders []Order
		if err := dec.Decode(&orders); err != nil {
			return nil, err
		}
		levels = append(levels, BookLevel{Price: price, Orders: orders})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return levels, nil
}
