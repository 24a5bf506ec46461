// Package persist applies the engine's persistence intents to a store on
// a goroutine of its own.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/metrics"
	"github.com/efreitasn/spotexchange/internal/store"
)

// Policy decides what Emit does when the queue is full.
type Policy string

const (
	// PolicyBlock waits for room. Nothing is lost while the writer runs.
	PolicyBlock Policy = "block"
	// PolicyDrop discards the intent and counts it.
	PolicyDrop Policy = "drop"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBlock, PolicyDrop:
		return p, nil
	default:
		return "", fmt.Errorf("unknown persist policy %q (must be block or drop)", s)
	}
}

// TradePublisher receives every trade the store accepted.
type TradePublisher interface {
	PublishTrade(ctx context.Context, t domain.SaveTrade) error
}

// Config holds the writer's tunables.
type Config struct {
	QueueSize    int
	Policy       Policy
	WriteTimeout time.Duration
}

// Writer drains a bounded queue of intents into a store, in order.
// Failures are logged and counted; they are never retried and never
// reach the engine.
type Writer struct {
	store   store.Store
	tape    TradePublisher
	cfg     Config
	queue   chan domain.Intent
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewWriter creates a writer. tape may be nil.
func NewWriter(st store.Store, tape TradePublisher, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Writer {
	return &Writer{
		store:   st,
		tape:    tape,
		cfg:     cfg,
		queue:   make(chan domain.Intent, cfg.QueueSize),
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "persist")),
		metrics: m,
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	go w.run()
}

// Emit enqueues an intent. It must not be called after Close.
func (w *Writer) Emit(i domain.Intent) {
	if w.cfg.Policy == PolicyDrop {
		select {
		case w.queue <- i:
		default:
			w.metrics.RecordIntentDropped()
			w.logger.Warn("persist queue full, intent dropped", slog.String("kind", i.Kind()))
		}
		return
	}
	w.queue <- i
}

// Close stops accepting intents. The writer applies what is queued and
// then closes Done.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.queue)
	})
}

// Done is closed once every queued intent has been applied.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for i := range w.queue {
		w.apply(i)
	}
	w.logger.Info("persist writer drained")
}

func (w *Writer) apply(i domain.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch v := i.(type) {
	case domain.UpdateBalance:
		err = w.store.UpdateBalance(ctx, v.Balance)
	case domain.SaveTrade:
		err = w.store.SaveTrade(ctx, v)
		if err == nil && w.tape != nil {
			tapeErr := w.tape.PublishTrade(ctx, v)
			w.metrics.RecordTape(tapeErr)
			if tapeErr != nil {
				w.logger.Warn("trade tape publish failed", slog.String("error", tapeErr.Error()))
			}
		}
	default:
		err = fmt.Errorf("unknown intent %T", i)
	}

	w.metrics.RecordIntent(i.Kind(), err)
	if err != nil {
		w.logger.Error("persist intent failed",
			slog.String("kind", i.Kind()),
			slog.String("error", err.Error()),
		)
	}
}
