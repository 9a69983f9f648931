// Package ratelimit implements the fixed-window admission controller keyed
// by either integration or connection, per the runtime spec's rate limiter
// component.
package ratelimit

import (
	"sync"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/pkg/logger"
)

// Strategy selects what a rate-limit key is scoped to.
type Strategy string

const (
	StrategyPerIntegration Strategy = "per-integration"
	StrategyPerConnection  Strategy = "per-connection"
)

// Policy is the connector-declared rate limit.
type Policy struct {
	Requests int      `json:"requests"`
	WindowMs int64    `json:"windowMs"`
	Strategy Strategy `json:"strategy"`
}

func (p Policy) window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

type counter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Limiter is an in-process, fixed-window rate limiter safe for concurrent
// use. Each key owns its own mutex so distinct keys never contend with each
// other, the same "single-writer lock per key" idiom the teacher's
// engine/auth/ratelimit.Service uses for its token-bucket limiters — only
// here the bucket state is a window start and a count, because callers need
// P3's exact remaining/reset-time semantics rather than a smoothed rate.
type Limiter struct {
	mu       sync.RWMutex
	counters map[string]*counter
	done     chan struct{}
	closed   bool
}

// New creates a Limiter and starts its idle-counter reaper.
func New() *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		done:     make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Close stops the reaper goroutine. Idempotent.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// GenerateKey concatenates the connector id with either the integration id
// or the connection id, per strategy.
func GenerateKey(strategy Strategy, connectorID, connectionID, integrationID core.ID) string {
	if strategy == StrategyPerIntegration {
		return connectorID.String() + ":" + integrationID.String()
	}
	return connectorID.String() + ":" + connectionID.String()
}

// CheckLimit performs the fixed-window admission decision described in the
// spec: a new window opens when none exists yet or the current one has
// expired; within a live window, admission proceeds while count < requests.
func (l *Limiter) CheckLimit(key string, policy Policy) Decision {
	c := l.getOrCreateCounter(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	window := policy.window()
	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= window {
		c.windowStart = now
		c.count = 1
		return Decision{Allowed: true, Remaining: policy.Requests - 1, ResetTime: now.Add(window)}
	}

	resetTime := c.windowStart.Add(window)
	if c.count < policy.Requests {
		c.count++
		return Decision{Allowed: true, Remaining: policy.Requests - c.count, ResetTime: resetTime}
	}
	return Decision{Allowed: false, Remaining: 0, ResetTime: resetTime}
}

func (l *Limiter) getOrCreateCounter(key string) *counter {
	l.mu.RLock()
	c, ok := l.counters[key]
	l.mu.RUnlock()
	if ok {
		return c
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counters[key]; ok {
		return c
	}
	c = &counter{}
	l.counters[key] = c
	return c
}

// reapLoop drops counters whose window closed long ago so memory does not
// grow unbounded across short-lived keys (e.g. per-connection keys for
// connections that were later deleted).
func (l *Limiter) reapLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.reapExpired()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) reapExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	expired := 0
	for key, c := range l.counters {
		c.mu.Lock()
		stale := !c.windowStart.IsZero() && now.Sub(c.windowStart) > 24*time.Hour
		c.mu.Unlock()
		if stale {
			delete(l.counters, key)
			expired++
		}
	}
	if expired > 0 {
		logger.FromContext(nil).With("expired_count", expired).Debug("reaped idle rate limit counters")
	}
}
