package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/core"
)

func TestLimiter_CheckLimit(t *testing.T) {
	t.Run("Should allow up to the configured request count within a window", func(t *testing.T) {
		l := New()
		defer l.Close()
		policy := Policy{Requests: 2, WindowMs: 60_000}

		first := l.CheckLimit("k", policy)
		second := l.CheckLimit("k", policy)
		third := l.CheckLimit("k", policy)

		assert.True(t, first.Allowed)
		assert.True(t, second.Allowed)
		assert.False(t, third.Allowed)
		assert.Equal(t, 0, third.Remaining)
	})

	t.Run("Should reset the window once it expires", func(t *testing.T) {
		l := New()
		defer l.Close()
		policy := Policy{Requests: 1, WindowMs: 50}

		first := l.CheckLimit("k", policy)
		require.True(t, first.Allowed)
		denied := l.CheckLimit("k", policy)
		require.False(t, denied.Allowed)

		time.Sleep(60 * time.Millisecond)
		allowedAgain := l.CheckLimit("k", policy)
		assert.True(t, allowedAgain.Allowed)
	})

	t.Run("Should track distinct keys independently", func(t *testing.T) {
		l := New()
		defer l.Close()
		policy := Policy{Requests: 1, WindowMs: 60_000}

		a := l.CheckLimit("a", policy)
		b := l.CheckLimit("b", policy)

		assert.True(t, a.Allowed)
		assert.True(t, b.Allowed)
	})

	t.Run("Should be safe under concurrent access to the same key", func(t *testing.T) {
		l := New()
		defer l.Close()
		policy := Policy{Requests: 50, WindowMs: 60_000}

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowedCount := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d := l.CheckLimit("shared", policy)
				if d.Allowed {
					mu.Lock()
					allowedCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, allowedCount)
	})
}

func TestGenerateKey(t *testing.T) {
	t.Run("Should key by integration id for the per-integration strategy", func(t *testing.T) {
		key := GenerateKey(StrategyPerIntegration, core.ID("conn1"), core.ID("connXYZ"), core.ID("intABC"))
		assert.Equal(t, "conn1:intABC", key)
	})

	t.Run("Should key by connection id for the per-connection strategy", func(t *testing.T) {
		key := GenerateKey(StrategyPerConnection, core.ID("conn1"), core.ID("connXYZ"), core.ID("intABC"))
		assert.Equal(t, "conn1:connXYZ", key)
	})
}
