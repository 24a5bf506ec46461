package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/spotexchange/internal/domain"
	"github.com/efreitasn/spotexchange/internal/persist"
)

// Config holds all runtime configuration for the spot exchange.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	MailboxSize      int
	HistoryHighWater int
	HistoryLowWater  int

	PersistQueueSize    int
	PersistPolicy       persist.Policy
	PersistWriteTimeout time.Duration
	DataDir             string // empty keeps everything in memory

	FanoutBuffer int
	VWAPWindow   time.Duration

	DefaultUsername     string
	DefaultQuoteBalance decimal.Decimal

	SimulatorEnabled  bool
	SimulatorInterval time.Duration

	NATSURL      string // empty disables the NATS bridge
	NATSSubject  string
	KafkaBrokers []string // empty disables the trade tape
	KafkaTopic   string
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. Variables from a .env file in the working
// directory are used when not already set. It returns an error for any
// invalid value.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	mailboxSize, err := getPositiveInt("MAILBOX_SIZE", 10000)
	if err != nil {
		return nil, err
	}

	highWater, err := getPositiveInt("HISTORY_HIGH_WATER", 5000)
	if err != nil {
		return nil, err
	}

	lowWater, err := getPositiveInt("HISTORY_LOW_WATER", 2000)
	if err != nil {
		return nil, err
	}
	if lowWater >= highWater {
		return nil, fmt.Errorf("invalid HISTORY_LOW_WATER: %d, must be below HISTORY_HIGH_WATER (%d)", lowWater, highWater)
	}

	persistQueueSize, err := getPositiveInt("PERSIST_QUEUE_SIZE", 10000)
	if err != nil {
		return nil, err
	}

	policy, err := persist.ParsePolicy(getStr("PERSIST_POLICY", string(persist.PolicyBlock)))
	if err != nil {
		return nil, fmt.Errorf("invalid PERSIST_POLICY: %w", err)
	}

	persistWriteTimeout, err := getDuration("PERSIST_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PERSIST_WRITE_TIMEOUT: %w", err)
	}

	fanoutBuffer, err := getPositiveInt("FANOUT_BUFFER", 64)
	if err != nil {
		return nil, err
	}

	vwapWindow, err := getDuration("VWAP_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid VWAP_WINDOW: %w", err)
	}

	defaultQuote, err := domain.ParseAmount(getStr("DEFAULT_QUOTE_BALANCE", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_QUOTE_BALANCE: %w", err)
	}

	simulatorEnabled, err := getBool("SIMULATOR_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid SIMULATOR_ENABLED: %w", err)
	}

	simulatorInterval, err := getDuration("SIMULATOR_INTERVAL", 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid SIMULATOR_INTERVAL: %w", err)
	}
	if simulatorInterval <= 0 {
		return nil, fmt.Errorf("invalid SIMULATOR_INTERVAL: must be positive")
	}

	return &Config{
		Port:                port,
		LogLevel:            logLevel,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		IdleTimeout:         idleTimeout,
		ShutdownTimeout:     shutdownTimeout,
		MailboxSize:         mailboxSize,
		HistoryHighWater:    highWater,
		HistoryLowWater:     lowWater,
		PersistQueueSize:    persistQueueSize,
		PersistPolicy:       policy,
		PersistWriteTimeout: persistWriteTimeout,
		DataDir:             getStr("DATA_DIR", ""),
		FanoutBuffer:        fanoutBuffer,
		VWAPWindow:          vwapWindow,
		DefaultUsername:     getStr("DEFAULT_USERNAME", "trader"),
		DefaultQuoteBalance: defaultQuote,
		SimulatorEnabled:    simulatorEnabled,
		SimulatorInterval:   simulatorInterval,
		NATSURL:             getStr("NATS_URL", ""),
		NATSSubject:         getStr("NATS_SUBJECT", "spotexchange.orderbook"),
		KafkaBrokers:        getList("KAFKA_BROKERS"),
		KafkaTopic:          getStr("KAFKA_TOPIC", "spotexchange.trades"),
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: %d, must be positive", key, n)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma-separated value, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
