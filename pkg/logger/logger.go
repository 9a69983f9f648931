// Package logger provides the engine's structured logging contract: a small
// Logger interface backed by charmbracelet/log, threaded through
// context.Context so every package logs with whatever fields the caller
// already attached (connection id, session id, job id) without importing a
// concrete logger type.
package logger

import (
	"context"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel mirrors charmlog's level set so callers never import charmlog
// directly.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) toCharmLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Logger is the engine-wide logging contract.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Config configures a new Logger.
type Config struct {
	Level     LogLevel
	Output    io.Writer
	JSON      bool
	TimeStamp bool
}

// DefaultConfig returns the configuration used by cmd/flowcore-server.
func DefaultConfig() *Config {
	return &Config{Level: InfoLevel, Output: os.Stderr, TimeStamp: true}
}

// TestConfig returns a quiet configuration suitable for unit tests.
func TestConfig() *Config {
	return &Config{Level: DebugLevel, Output: io.Discard}
}

type charmLogger struct {
	inner *charmlog.Logger
}

// NewLogger builds a Logger from cfg. A nil cfg falls back to DefaultConfig.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	inner := charmlog.NewWithOptions(output, charmlog.Options{
		Level:           cfg.Level.toCharmLevel(),
		ReportTimestamp: cfg.TimeStamp,
		Formatter:       formatterFor(cfg.JSON),
	})
	return &charmLogger{inner: inner}
}

func formatterFor(asJSON bool) charmlog.Formatter {
	if asJSON {
		return charmlog.JSONFormatter
	}
	return charmlog.TextFormatter
}

func (l *charmLogger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *charmLogger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *charmLogger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *charmLogger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

func (l *charmLogger) With(kv ...any) Logger {
	return &charmLogger{inner: l.inner.With(kv...)}
}

type ctxKey int

// LoggerCtxKey is the context.Context key a Logger is stored under.
const LoggerCtxKey ctxKey = 0

var defaultLogger = NewLogger(DefaultConfig())

// ContextWithLogger returns a context carrying l, retrievable with FromContext.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// FromContext returns the Logger stored in ctx, or the process-wide default
// logger if ctx carries none (or a value of the wrong type).
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	if l, ok := ctx.Value(LoggerCtxKey).(Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}
