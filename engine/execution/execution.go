// Package execution wraps connector action and sync handlers in the shared
// retry/timeout/rate-limit envelope every invocation goes through, and
// persists sync metadata across runs.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nexusflow/flowcore/engine/connection"
	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/engine/ratelimit"
	"github.com/nexusflow/flowcore/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Result is the uniform outcome of one action invocation. A handler failure
// (retry exhaustion, timeout, rate-limit denial) lands in Error with
// Success=false rather than surfacing as a Go error; only dispatch problems
// (unknown connection, unknown action, invalid params) are returned as
// errors, since those identify a caller mistake rather than a run outcome.
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime int64          `json:"executionTime"` // milliseconds
}

// SyncResult is a Result plus the wall-clock instant the sync finished.
type SyncResult struct {
	Result
	Timestamp time.Time `json:"timestamp"`
}

// Core is the execution envelope: it looks up connections/connectors,
// consults the rate limiter, and runs a handler with bounded retries and a
// hard timeout.
type Core struct {
	Connections connection.Store
	Registry    *connector.Registry
	Limiter     *ratelimit.Limiter
}

// NewCore wires the execution envelope to its collaborators.
func NewCore(connections connection.Store, registry *connector.Registry, limiter *ratelimit.Limiter) *Core {
	return &Core{Connections: connections, Registry: registry, Limiter: limiter}
}

func (c *Core) resolve(ctx context.Context, connectionID core.ID) (*connection.Connection, *connector.Connector, error) {
	conn, err := c.Connections.Read(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	cn, err := c.Registry.Connector(conn.ConnectorID)
	if err != nil {
		return nil, nil, err
	}
	return conn, cn, nil
}

// checkRateLimit returns the denial decision if the connector's policy
// refuses this invocation, or nil if it may proceed (including when the
// connector declares no policy at all).
func (c *Core) checkRateLimit(cn *connector.Connector, conn *connection.Connection) *ratelimit.Decision {
	if cn.RateLimit == nil {
		return nil
	}
	key := ratelimit.GenerateKey(cn.RateLimit.Strategy, cn.ID, conn.ID, conn.IntegrationID)
	decision := c.Limiter.CheckLimit(key, *cn.RateLimit)
	if decision.Allowed {
		return nil
	}
	return &decision
}

func denialMessage(decision *ratelimit.Decision) string {
	return fmt.Sprintf("Rate limit exceeded, reset at %s", decision.ResetTime.Format(time.RFC3339))
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// ExecuteAction runs a connector action against connectionID with the
// connector's retry/timeout policy. The returned Result always reports the
// elapsed time from dispatch start, whether the handler succeeded, failed,
// or was never attempted because of a rate-limit denial.
func (c *Core) ExecuteAction(ctx context.Context, connectionID core.ID, actionName string, params core.Input) (*Result, error) {
	start := time.Now()
	conn, cn, err := c.resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	action, ok := cn.Action(actionName)
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "execution: connector %q has no action %q", cn.ID, actionName)
	}
	if denied := c.checkRateLimit(cn, conn); denied != nil {
		return &Result{Success: false, Error: denialMessage(denied), ExecutionTime: elapsedMs(start)}, nil
	}

	defaultedParams, err := action.InputSchema.ApplyDefaults(map[string]any(params))
	if err != nil {
		return nil, err
	}
	if _, err := action.InputSchema.Validate(ctx, defaultedParams); err != nil {
		return nil, err
	}
	params = core.Input(defaultedParams)

	configCopy, err := core.DeepCopyValue(conn.Config)
	if err != nil {
		return nil, core.NewError(err, core.CodeInternal, nil)
	}

	output, err := runWithPolicy(ctx, func(runCtx context.Context) (map[string]any, error) {
		return action.Handler(runCtx, configCopy, params)
	}, action.MaxRetries, action.Timeout)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), ExecutionTime: elapsedMs(start)}, nil
	}
	return &Result{Success: true, Data: output, ExecutionTime: elapsedMs(start)}, nil
}

// ExecuteSync runs a connector sync job against connectionID with the
// connector's retry/timeout policy, persisting the returned metadata back
// onto the connection for the next invocation.
func (c *Core) ExecuteSync(ctx context.Context, connectionID core.ID, syncName string) (*SyncResult, error) {
	start := time.Now()
	conn, cn, err := c.resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	sync, ok := cn.Sync(syncName)
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "execution: connector %q has no sync %q", cn.ID, syncName)
	}
	if denied := c.checkRateLimit(cn, conn); denied != nil {
		return syncResult(Result{Success: false, Error: denialMessage(denied), ExecutionTime: elapsedMs(start)}), nil
	}

	configCopy, err := core.DeepCopyValue(conn.Config)
	if err != nil {
		return nil, core.NewError(err, core.CodeInternal, nil)
	}
	metaCopy, err := core.DeepCopyValue(conn.Metadata[syncName])
	if err != nil {
		return nil, core.NewError(err, core.CodeInternal, nil)
	}

	data, err := runWithPolicy(ctx, func(runCtx context.Context) (map[string]any, error) {
		return sync.Handler(runCtx, configCopy, metaCopy)
	}, sync.MaxRetries, sync.Timeout)
	if err != nil {
		return syncResult(Result{Success: false, Error: err.Error(), ExecutionTime: elapsedMs(start)}), nil
	}

	if data != nil {
		if conn.Metadata == nil {
			conn.Metadata = make(map[string]map[string]any)
		}
		conn.Metadata[syncName] = data
		if err := c.Connections.Update(ctx, conn); err != nil {
			logger.FromContext(ctx).Error("execution: failed to persist sync metadata", "connection", conn.ID, "sync", syncName, "error", err)
			return nil, core.NewError(err, core.CodeInternal, nil)
		}
	}
	return syncResult(Result{Success: true, Data: data, ExecutionTime: elapsedMs(start)}), nil
}

func syncResult(r Result) *SyncResult {
	return &SyncResult{Result: r, Timestamp: time.Now()}
}

type attemptResult struct {
	out map[string]any
	err error
}

// runWithPolicy retries fn up to maxRetries times (maxRetries+1 total
// attempts) with an unjittered exponential backoff (1s, 2s, 4s, ...) between
// failures. Each attempt runs the handler in its own goroutine and races it
// against a fresh timeout budget, so a handler that never checks its context
// still cannot hold the caller past the deadline: the losing goroutine is
// abandoned, not killed (the buffered channel lets it finish and be
// collected without leaking), which is why handlers must be
// side-effect-tolerant of cancellation. It never retries a RateLimited
// failure: the caller is being told to back off on its own schedule, not
// the handler's.
func runWithPolicy(ctx context.Context, fn func(context.Context) (map[string]any, error), maxRetries int, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time

	if maxRetries < 0 {
		maxRetries = 0
	}
	withMax := backoff.WithMaxRetries(policy, uint64(maxRetries))

	var out map[string]any
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(core.NewError(err, core.CodeTimeout, nil))
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan attemptResult, 1)
		go func() {
			o, e := fn(attemptCtx)
			done <- attemptResult{out: o, err: e}
		}()

		select {
		case result := <-done:
			if result.err == nil {
				out = result.out
				return nil
			}
			if core.IsRateLimited(result.err) {
				return backoff.Permanent(result.err)
			}
			if attemptCtx.Err() != nil {
				return core.Errorf(core.CodeTimeout, "handler exceeded its %s timeout", timeout)
			}
			return result.err
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				return backoff.Permanent(core.NewError(ctx.Err(), core.CodeTimeout, nil))
			}
			return core.Errorf(core.CodeTimeout, "handler exceeded its %s timeout", timeout)
		}
	}, backoff.WithContext(withMax, ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}
