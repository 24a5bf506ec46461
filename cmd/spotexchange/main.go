package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/account"
	"github.com/efreitasn/spotexchange/internal/config"
	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/engine"
	"github.com/efreitasn/spotexchange/internal/handler"
	"github.com/efreitasn/spotexchange/internal/marketdata"
	"github.com/efreitasn/spotexchange/internal/metrics"
	"github.com/efreitasn/spotexchange/internal/persist"
	"github.com/efreitasn/spotexchange/internal/service"
	"github.com/efreitasn/spotexchange/internal/simulator"
	"github.com/efreitasn/spotexchange/internal/store"
	"github.com/efreitasn/spotexchange/internal/tape"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exchange failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New("spotexchange")

	// Store.
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", slog.String("error", err.Error()))
		}
	}()

	// Default user and ledger.
	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startCancel()

	user, err := st.EnsureUser(startCtx, cfg.DefaultUsername, map[string]decimal.Decimal{
		domain.QuoteAsset: cfg.DefaultQuoteBalance,
		domain.BaseAsset:  decimal.Zero,
	})
	if err != nil {
		return fmt.Errorf("ensure default user: %w", err)
	}
	balances, err := st.AllBalances(startCtx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	accounts := account.NewManager()
	accounts.LoadAll(balances)
	logger.Info("ledger loaded",
		slog.String("default_user", user.ID.String()),
		slog.Int("balances", len(balances)),
	)

	// Trade tape.
	var tradeTape persist.TradePublisher
	var kafka *tape.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka = tape.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		tradeTape = kafka
		logger.Info("trade tape enabled", slog.String("topic", cfg.KafkaTopic))
	}

	// Persistence writer.
	writer := persist.NewWriter(st, tradeTape, persist.Config{
		QueueSize:    cfg.PersistQueueSize,
		Policy:       cfg.PersistPolicy,
		WriteTimeout: cfg.PersistWriteTimeout,
	}, logger, m)
	writer.Start()

	// Market data fanout and engine.
	hub := marketdata.NewHub(cfg.FanoutBuffer, m)
	eng := engine.New(engine.Config{
		MailboxSize:      cfg.MailboxSize,
		HistoryHighWater: cfg.HistoryHighWater,
		HistoryLowWater:  cfg.HistoryLowWater,
	}, accounts, writer, hub, logger, m)
	eng.Start()

	// NATS bridge.
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	if cfg.NATSURL != "" {
		nc, err := marketdata.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("nats unavailable, bridge disabled", slog.String("error", err.Error()))
		} else {
			defer nc.Close()
			bridge := marketdata.NewBridge(nc, cfg.NATSSubject, logger, m)
			go bridge.Run(bridgeCtx, hub.Subscribe())
			logger.Info("nats bridge enabled", slog.String("subject", cfg.NATSSubject))
		}
	}

	// Services.
	ids := domain.NewIDGenerator(uint64(time.Now().UnixMicro()))
	orderSvc := service.NewOrderService(eng, ids)
	marketSvc := service.NewMarketService(eng, cfg.VWAPWindow)
	accountSvc := service.NewAccountService(eng, st)

	// Router.
	router := handler.NewRouter(handler.Deps{
		Orders:      orderSvc,
		Market:      marketSvc,
		Account:     accountSvc,
		Hub:         hub,
		Metrics:     m.Handler(),
		DefaultUser: user.ID,
		Logger:      logger,
	})

	// Simulator.
	simCtx, simCancel := context.WithCancel(context.Background())
	defer simCancel()
	var sim *simulator.Simulator
	if cfg.SimulatorEnabled {
		sim = simulator.New(eng, ids, cfg.SimulatorInterval, logger)
		sim.Start(simCtx)
	}

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case runErr = <-serverErr:
		logger.Error("server error", slog.String("error", runErr.Error()))
	}

	// Graceful shutdown: HTTP, simulator, engine, writer drain, then the
	// deferred tape and store closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	if sim != nil {
		simCancel()
		<-sim.Done()
	}

	eng.Close()
	<-eng.Done()

	select {
	case <-writer.Done():
	case <-shutdownCtx.Done():
		logger.Warn("persistence queue not drained before shutdown timeout")
	}

	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Error("trade tape close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	return runErr
}

// openStore opens Pebble under DATA_DIR, or an in-memory store when it
// is unset.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DataDir == "" {
		logger.Warn("DATA_DIR not set, state will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenPebble(cfg.DataDir, nil)
	if err != nil {
		return nil, err
	}
	logger.Info("pebble store opened", slog.String("path", cfg.DataDir))
	return st, nil
}
