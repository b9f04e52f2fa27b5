package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":7860"
	defaultServerURL    = "http://localhost:8000"
	defaultDBPath       = "anvil.db"
	defaultOutputDir    = "outputs"
	defaultPollInterval = 2 * time.Second
	defaultTickInterval = 100 * time.Millisecond
	defaultHTTPTimeout  = 30 * time.Second

	envListenAddr   = "ANVIL_LISTEN_ADDR"
	envServerURL    = "ANVIL_SERVER_URL"
	envDBPath       = "ANVIL_DB_PATH"
	envOutputDir    = "ANVIL_OUTPUT_DIR"
	envPollInterval = "ANVIL_POLL_INTERVAL"
	envTickInterval = "ANVIL_TICK_INTERVAL"
	envHTTPTimeout  = "ANVIL_HTTP_TIMEOUT"
	envLogLevel     = "ANVIL_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	ServerURL    string
	DBPath       string
	OutputDir    string
	PollInterval time.Duration
	TickInterval time.Duration
	HTTPTimeout  time.Duration
	LogLevel     slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		ServerURL:    defaultServerURL,
		DBPath:       defaultDBPath,
		OutputDir:    defaultOutputDir,
		PollInterval: defaultPollInterval,
		TickInterval: defaultTickInterval,
		HTTPTimeout:  defaultHTTPTimeout,
		LogLevel:     slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envOutputDir); v != "" {
		cfg.OutputDir = v
	}
	cfg.PollInterval = parseDuration(os.Getenv(envPollInterval), defaultPollInterval)
	cfg.TickInterval = parseDuration(os.Getenv(envTickInterval), defaultTickInterval)
	cfg.HTTPTimeout = parseDuration(os.Getenv(envHTTPTimeout), defaultHTTPTimeout)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

// parseDuration parses a Go duration string, falling back to def on empty,
// invalid, or non-positive input.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
