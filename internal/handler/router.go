package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/efreitasn/spotexchange/internal/marketdata"
	"github.com/efreitasn/spotexchange/internal/service"
)

// Deps holds everything the router needs.
type Deps struct {
	Orders      *service.OrderService
	Market      *service.MarketService
	Account     *service.AccountService
	Hub         *marketdata.Hub
	Metrics     http.Handler // nil disables /metrics
	DefaultUser uuid.UUID
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all routes registered, request logging,
// Content-Type validation and caller identity middleware, wrapped in a
// permissive CORS handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(d.Logger))
	r.Use(contentTypeJSON)
	r.Use(withUser(d.DefaultUser))

	// Create handlers.
	orderH := NewOrderHandler(d.Orders)
	marketH := NewMarketHandler(d.Market)
	accountH := NewAccountHandler(d.Account)
	streamH := NewStreamHandler(d.Hub, d.Logger)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Market data routes.
	r.Get("/orderbook", marketH.OrderBook)
	r.Get("/orderbook/depth", marketH.Depth)
	r.Get("/trades", marketH.Trades)
	r.Get("/ticker", marketH.Ticker)
	r.Get("/ws", streamH.Serve)

	// Order routes.
	r.Post("/order", orderH.SubmitOrder)
	r.Delete("/order/{order_id}", orderH.CancelOrder)

	// Account routes.
	r.Get("/balance", accountH.Balance)
	r.Get("/my-trades", accountH.Trades)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	return cors.AllowAll().Handler(r)
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
