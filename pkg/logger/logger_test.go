package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expected)

		actual := FromContext(ctx)

		require.NotNil(t, actual)
		assert.Equal(t, expected, actual)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		got := FromContext(t.Context())
		require.NotNil(t, got)
		got.Info("test message from default logger")
	})

	t.Run("Should return default logger when nil logger stored in context", func(t *testing.T) {
		ctx := ContextWithLogger(t.Context(), nil)
		got := FromContext(ctx)
		require.NotNil(t, got)
	})

	t.Run("Should return default logger for a nil context", func(t *testing.T) {
		got := FromContext(nil)
		require.NotNil(t, got)
	})
}

func TestLogLevel_ToCharmLevel(t *testing.T) {
	t.Run("Should map every level to a distinct charm level", func(t *testing.T) {
		levels := []LogLevel{DebugLevel, InfoLevel, WarnLevel, ErrorLevel}
		seen := make(map[int]bool)
		for _, lvl := range levels {
			seen[int(lvl.toCharmLevel())] = true
		}
		assert.Len(t, seen, len(levels))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should build a usable logger with nil config", func(t *testing.T) {
		l := NewLogger(nil)
		require.NotNil(t, l)
	})

	t.Run("Should chain With without panicking", func(t *testing.T) {
		l := NewLogger(TestConfig())
		scoped := l.With("connection_id", "conn_1")
		require.NotNil(t, scoped)
		scoped.Warn("scoped warning")
	})
}
