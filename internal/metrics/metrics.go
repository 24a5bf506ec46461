// Package metrics exposes the exchange's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry, so independent
// instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Engine
	ordersPlaced  *prometheus.CounterVec
	ordersCancel  *prometheus.CounterVec
	tradesTotal   prometheus.Counter
	mailboxDepth  prometheus.Gauge
	matchLatency  prometheus.Histogram
	historyLength prometheus.Gauge
	bookOrders    prometheus.Gauge

	// Persistence
	intentsWritten *prometheus.CounterVec
	intentsFailed  *prometheus.CounterVec
	intentsDropped prometheus.Counter
	tapePublished  *prometheus.CounterVec

	// Market data
	subscribers   prometheus.Gauge
	snapshotsLost prometheus.Counter
	natsPublished *prometheus.CounterVec
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders processed by the engine, by result",
		}, []string{"type", "result"}),

		ordersCancel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Cancel requests processed by the engine, by result",
		}, []string{"result"}),

		tradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of trades executed",
		}),

		mailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_mailbox_depth",
			Help:      "Messages waiting in the engine mailbox",
		}),

		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_latency_seconds",
			Help:      "Time spent processing a PlaceOrder message",
			Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2},
		}),

		historyLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trade_history_length",
			Help:      "Trades held in the in-memory history",
		}),

		bookOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_resting_orders",
			Help:      "Orders resting on the book",
		}),

		intentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_intents_written_total",
			Help:      "Persistence intents applied to the store",
		}, []string{"kind"}),

		intentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_intents_failed_total",
			Help:      "Persistence intents the store rejected",
		}, []string{"kind"}),

		intentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_intents_dropped_total",
			Help:      "Persistence intents dropped because the queue was full",
		}),

		tapePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tape_messages_total",
			Help:      "Trades forwarded to the trade tape, by result",
		}, []string{"result"}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "marketdata_subscribers",
			Help:      "Active market-data subscribers",
		}),

		snapshotsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketdata_snapshots_skipped_total",
			Help:      "Snapshots skipped by lagging subscribers",
		}),

		natsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_published_total",
			Help:      "Snapshots published to NATS, by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersPlaced,
		m.ordersCancel,
		m.tradesTotal,
		m.mailboxDepth,
		m.matchLatency,
		m.historyLength,
		m.bookOrders,
		m.intentsWritten,
		m.intentsFailed,
		m.intentsDropped,
		m.tapePublished,
		m.subscribers,
		m.snapshotsLost,
		m.natsPublished,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOrder records a processed PlaceOrder message.
func (m *Metrics) RecordOrder(orderType, result string, elapsed time.Duration) {
	m.ordersPlaced.WithLabelValues(orderType, result).Inc()
	m.matchLatency.Observe(elapsed.Seconds())
}

// RecordTrades adds n executed trades.
func (m *Metrics) RecordTrades(n int) {
	m.tradesTotal.Add(float64(n))
}

// RecordCancel records a processed CancelOrder message.
func (m *Metrics) RecordCancel(found bool) {
	result := "not_found"
	if found {
		result = "cancelled"
	}
	m.ordersCancel.WithLabelValues(result).Inc()
}

// UpdateEngineState records mailbox depth, history length and book size.
func (m *Metrics) UpdateEngineState(mailbox, history, resting int) {
	m.mailboxDepth.Set(float64(mailbox))
	m.historyLength.Set(float64(history))
	m.bookOrders.Set(float64(resting))
}

// RecordIntent records the outcome of applying one persistence intent.
func (m *Metrics) RecordIntent(kind string, err error) {
	if err != nil {
		m.intentsFailed.WithLabelValues(kind).Inc()
		return
	}
	m.intentsWritten.WithLabelValues(kind).Inc()
}

// RecordIntentDropped counts an intent lost to a full queue.
func (m *Metrics) RecordIntentDropped() {
	m.intentsDropped.Inc()
}

// RecordTape records the outcome of forwarding a trade to the tape.
func (m *Metrics) RecordTape(err error) {
	m.tapePublished.WithLabelValues(result(err)).Inc()
}

// AddSubscribers adjusts the subscriber gauge by delta.
func (m *Metrics) AddSubscribers(delta int) {
	m.subscribers.Add(float64(delta))
}

// RecordLag counts snapshots a subscriber never saw.
func (m *Metrics) RecordLag(skipped uint64) {
	m.snapshotsLost.Add(float64(skipped))
}

// RecordNATS records the outcome of a NATS publish.
func (m *Metrics) RecordNATS(err error) {
	m.natsPublished.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
