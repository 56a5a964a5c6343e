package rlog

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls the logger a Client builds for itself when the caller
// doesn't supply one of its own.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" or "json"

	// BufferSize is the number of recent formatted lines kept for
	// RecentLogs. Zero uses a sensible default.
	BufferSize int
}

func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "text", BufferSize: 200}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger wraps an *slog.Logger with its backing ring buffer, so callers can
// retrieve recent lines (e.g. for a support bundle) without owning a sink.
type Logger struct {
	*slog.Logger
	buffer *RingBuffer
}

// New builds a Logger writing to os.Stderr at cfg's level, also
// capturing every line into a ring buffer of cfg.BufferSize entries.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if cfg.Format == "json" {
		console = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		console = slog.NewTextHandler(os.Stderr, opts)
	}

	buf := NewRingBuffer(cfg.BufferSize)
	return &Logger{
		Logger: slog.New(NewBufferHandler(console, buf)),
		buffer: buf,
	}
}

// RecentLines returns the last n captured log lines, oldest first.
func (l *Logger) RecentLines(n int) []string {
	return l.buffer.Lines(n)
}
