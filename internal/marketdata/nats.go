package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/metrics"
)

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials the NATS server at url and keeps reconnecting for the
// life of the process.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("spotexchange"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}

// Bridge republishes snapshots from a subscription as JSON on a NATS subject.
type Bridge struct {
	conn    Publisher
	subject string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBridge creates a bridge publishing on subject.
func NewBridge(conn Publisher, subject string, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		conn:    conn,
		subject: subject,
		logger:  logger.With(slog.String("component", "nats_bridge")),
		metrics: m,
	}
}

// Run forwards snapshots until ctx is done or the hub closes.
func (b *Bridge) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()
	for {
		snap, skipped, err := sub.Recv(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrHubClosed) && !errors.Is(err, context.Canceled) {
				b.logger.Warn("bridge stopped", slog.String("error", err.Error()))
			}
			return
		}
		if skipped > 0 {
			b.logger.Debug("bridge lagged", slog.Uint64("skipped", skipped))
		}

		data, err := json.Marshal(snap)
		if err != nil {
			b.logger.Error("marshal snapshot", slog.String("error", err.Error()))
			continue
		}
		err = b.conn.Publish(b.subject, data)
		b.metrics.RecordNATS(err)
		if err != nil {
			b.logger.Warn("nats publish failed", slog.String("error", err.Error()))
		}
	}
}
