// Package simulator generates synthetic order flow around the current
// touch so the book always has liquidity.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
)

var (
	defaultBasePrice = decimal.NewFromInt(100)
	halfSpread       = decimal.RequireFromString("0.5")
	takerCross       = decimal.RequireFromString("0.1")
	priceFloor       = decimal.RequireFromString("0.1")
	two              = decimal.NewFromInt(2)
)

const (
	driftProbability = 0.01
	takerProbability = 0.10
	makerMinOffset   = 0.01
	makerMaxOffset   = 1.5
	priceDecimals    = 3
)

// Exchange is the part of the engine the simulator drives.
type Exchange interface {
	OrderBook(ctx context.Context) (domain.OrderBookSnapshot, error)
	PlaceOrder(ctx context.Context, order domain.Order) ([]domain.Trade, error)
}

// Simulator places one ownerless order per tick.
type Simulator struct {
	exchange Exchange
	ids      *domain.IDGenerator
	interval time.Duration
	rng      *rand.Rand
	base     decimal.Decimal
	logger   *slog.Logger
	done     chan struct{}
}

// New creates a simulator. ids must be the generator the gateway uses.
func New(exchange Exchange, ids *domain.IDGenerator, interval time.Duration, logger *slog.Logger) *Simulator {
	return newWithRand(exchange, ids, interval, logger, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newWithRand(exchange Exchange, ids *domain.IDGenerator, interval time.Duration, logger *slog.Logger, rng *rand.Rand) *Simulator {
	return &Simulator{
		exchange: exchange,
		ids:      ids,
		interval: interval,
		rng:      rng,
		base:     defaultBasePrice,
		logger:   logger.With(slog.String("component", "simulator")),
		done:     make(chan struct{}),
	}
}

// Start runs the simulator until ctx ends or the engine closes.
func (s *Simulator) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("simulator started", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("simulator stopped")
				return
			case <-ticker.C:
				if err := s.tick(ctx); err != nil {
					if errors.Is(err, domain.ErrEngineClosed) || ctx.Err() != nil {
						s.logger.Info("simulator stopped", slog.String("reason", err.Error()))
						return
					}
					s.logger.Warn("simulator tick failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Done is closed once the simulator goroutine has exited.
func (s *Simulator) Done() <-chan struct{} {
	return s.done
}

func (s *Simulator) tick(ctx context.Context) error {
	snap, err := s.exchange.OrderBook(ctx)
	if err != nil {
		return err
	}
	_, err = s.exchange.PlaceOrder(ctx, s.next(snap))
	return err
}

// next derives the order for this tick from the current book.
func (s *Simulator) next(snap domain.OrderBookSnapshot) domain.Order {
	bestBid, ok := snap.BestBid()
	if !ok {
		bestBid = s.base.Sub(halfSpread)
	}
	bestAsk, ok := snap.BestAsk()
	if !ok {
		bestAsk = s.base.Add(halfSpread)
	}

	if s.rng.Float64() < driftProbability {
		s.base = bestBid.Add(bestAsk).Div(two)
	}

	taker := s.rng.Float64() < takerProbability
	side := domain.SideBuy
	if s.rng.IntN(2) == 1 {
		side = domain.SideSell
	}

	var price decimal.Decimal
	var qty uint64
	if taker {
		if side == domain.SideBuy {
			price = bestAsk.Add(takerCross)
		} else {
			price = decimal.Max(bestBid.Sub(takerCross), priceFloor)
		}
		qty = 5 + s.rng.Uint64N(45)
	} else {
		offset := decimal.NewFromFloat(makerMinOffset + s.rng.Float64()*(makerMaxOffset-makerMinOffset))
		if side == domain.SideBuy {
			price = decimal.Max(bestBid.Sub(offset), priceFloor)
		} else {
			price = bestAsk.Add(offset)
		}
		price = price.Round(priceDecimals)
		qty = 50 + s.rng.Uint64N(450)
	}

	return domain.Order{
		ID:       s.ids.Next(),
		Price:    price,
		Quantity: qty,
		Side:     side,
		Type:     domain.OrderTypeLimit,
	}
}
