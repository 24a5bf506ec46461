package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/marketdata"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is permissive for the whole API.
		return true
	},
}

// StreamHandler streams order-book snapshots over WebSocket.
type StreamHandler struct {
	hub        *marketdata.Hub
	logger     *slog.Logger
	pingPeriod time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *marketdata.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:        hub,
		logger:     logger.With(slog.String("component", "ws")),
		pingPeriod: pingPeriod,
	}
}

// Serve handles GET /ws. Each connection receives the latest snapshot on
// connect and every snapshot published afterwards. A client too slow to
// keep up skips intermediate snapshots; the gap is logged and streaming
// continues.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readLoop(conn, cancel)

	h.logger.Debug("client connected", slog.String("remote", r.RemoteAddr))
	err = h.writeLoop(ctx, conn, sub)
	h.logger.Debug("client disconnected",
		slog.String("remote", r.RemoteAddr),
		slog.String("reason", err.Error()),
	)
}

// readLoop discards client messages and cancels the stream once the
// connection fails or the client goes away.
func (h *StreamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *StreamHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *marketdata.Subscription) error {
	for {
		recvCtx, cancel := context.WithTimeout(ctx, h.pingPeriod)
		snap, skipped, err := sub.Recv(recvCtx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
			continue
		case errors.Is(err, domain.ErrHubClosed):
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return err
		default:
			return err
		}

		if skipped > 0 {
			h.logger.Warn("client lagging, snapshots skipped", slog.Uint64("skipped", skipped))
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			return err
		}
	}
}
