// Package facade wires the registry, connection store, rate limiter,
// execution core, scheduler, and flow session manager into the single
// entry point every external interface (HTTP, CLI) drives the engine
// through.
package facade

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/nexusflow/flowcore/engine/connection"
	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/engine/execution"
	"github.com/nexusflow/flowcore/engine/flow"
	"github.com/nexusflow/flowcore/engine/ratelimit"
	"github.com/nexusflow/flowcore/engine/scheduler"
)

// Engine is the facade over every runtime component.
type Engine struct {
	Registry    *connector.Registry
	Connections connection.Store
	Limiter     *ratelimit.Limiter
	Execution   *execution.Core
	Scheduler   *scheduler.Scheduler
	Sessions    *flow.Manager
	Evaluator   *flow.Evaluator
}

// Option configures optional engine collaborators.
type Option func(*options)

type options struct {
	meter metric.Meter
}

// WithMeter instruments the engine's scheduler with OpenTelemetry metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// New builds an Engine over the given connector catalog.
func New(catalog []*connector.Connector, sessionTTL time.Duration, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	evaluator, err := flow.NewEvaluator()
	if err != nil {
		return nil, err
	}
	registry := connector.NewRegistry(catalog)
	connections := connection.NewMemoryStore()
	limiter := ratelimit.New()
	execCore := execution.NewCore(connections, registry, limiter)

	e := &Engine{
		Registry:    registry,
		Connections: connections,
		Limiter:     limiter,
		Execution:   execCore,
		Sessions:    flow.NewManager(sessionTTL, evaluator),
		Evaluator:   evaluator,
	}
	schedulerMetrics := scheduler.NewMetrics(context.Background(), o.meter)
	e.Scheduler = scheduler.New(func(ctx context.Context, connectionID core.ID, syncName string) error {
		result, err := e.Execution.ExecuteSync(ctx, connectionID, syncName)
		if err != nil {
			return err
		}
		if !result.Success {
			return core.Errorf(core.CodeUpstream, "%s", result.Error)
		}
		return nil
	}, scheduler.WithMetrics(schedulerMetrics))
	return e, nil
}

// Destroy tears the engine down: the scheduler's timers are stopped first
// (so no job can observe a half-torn-down registry), then the rate limiter
// and session manager are stopped and the registries are left to be
// garbage-collected. Idempotent.
func (e *Engine) Destroy() {
	e.Scheduler.Destroy()
	e.Limiter.Close()
	e.Sessions.Close()
}

// AddConnection validates and persists a new connection and then, if it has
// a positive SyncInterval and at least one active sync, schedules each
// active sync. Scheduling has no failure path, so nothing is rolled back
// once the connection is stored. The connector's refresh callback is not
// invoked here.
func (e *Engine) AddConnection(ctx context.Context, conn *connection.Connection) error {
	if _, err := core.ValidateID(conn.ID.String()); err != nil {
		return err
	}
	integration, err := e.Registry.Integration(conn.IntegrationID)
	if err != nil {
		return err
	}
	if integration.ConnectorID != conn.ConnectorID {
		return core.Errorf(core.CodeInvalidArgument, "facade: connection %q connectorId does not match integration %q connectorId", conn.ID, conn.IntegrationID)
	}
	cn, err := e.Registry.Connector(conn.ConnectorID)
	if err != nil {
		return err
	}
	for syncName := range conn.ActiveSyncs {
		if !cn.HasSync(syncName) {
			return core.Errorf(core.CodeInvalidArgument, "facade: connector %q has no sync %q", cn.ID, syncName)
		}
	}
	if err := validateConnectionConfig(ctx, cn, conn); err != nil {
		return err
	}

	if err := e.Connections.Create(ctx, conn); err != nil {
		return err
	}
	e.Registry.MarkReferenced(conn.IntegrationID)

	if conn.SyncInterval > 0 && len(conn.ActiveSyncs) > 0 {
		interval := core.MinutesDuration(conn.SyncInterval)
		for syncName := range conn.ActiveSyncs {
			e.Scheduler.ScheduleJob(conn.ID, syncName, interval)
		}
	}
	return nil
}

// RemoveConnection unschedules every job for the connection before deleting
// it, so no timer can fire against a connection id the store no longer
// knows about.
func (e *Engine) RemoveConnection(ctx context.Context, id core.ID) error {
	conn, err := e.Connections.Read(ctx, id)
	if err != nil {
		return err
	}
	e.Scheduler.UnscheduleConnectionJobs(id)
	if err := e.Connections.Delete(ctx, id); err != nil {
		return err
	}
	e.Registry.Unreference(conn.IntegrationID)
	return nil
}

// ActivateSync turns on a sync for a connection: it adds the sync to the
// stored ActiveSyncs set and then schedules the job. syncIntervalMinutes, if
// > 0, replaces the connection's SyncInterval and is persisted back onto the
// connection. When the resulting interval is not positive, the sync is
// recorded as active but no job is scheduled.
func (e *Engine) ActivateSync(ctx context.Context, connectionID core.ID, syncName string, syncIntervalMinutes float64) error {
	conn, err := e.Connections.Read(ctx, connectionID)
	if err != nil {
		return err
	}
	cn, err := e.Registry.Connector(conn.ConnectorID)
	if err != nil {
		return err
	}
	if !cn.HasSync(syncName) {
		return core.Errorf(core.CodeInvalidArgument, "facade: connector %q has no sync %q", cn.ID, syncName)
	}
	if syncIntervalMinutes > 0 {
		conn.SyncInterval = syncIntervalMinutes
	}
	if conn.ActiveSyncs == nil {
		conn.ActiveSyncs = make(map[string]struct{})
	}
	conn.ActiveSyncs[syncName] = struct{}{}
	if err := e.Connections.Update(ctx, conn); err != nil {
		return err
	}
	interval := core.MinutesDuration(conn.SyncInterval)
	if interval > 0 {
		e.Scheduler.ScheduleJob(connectionID, syncName, interval)
	}
	return nil
}

// DeactivateSync turns off a sync for a connection.
func (e *Engine) DeactivateSync(ctx context.Context, connectionID core.ID, syncName string) error {
	conn, err := e.Connections.Read(ctx, connectionID)
	if err != nil {
		return err
	}
	e.Scheduler.UnscheduleJob(connectionID, syncName)
	delete(conn.ActiveSyncs, syncName)
	return e.Connections.Update(ctx, conn)
}

// ScheduleConnectionSyncs activates a batch of syncs for a connection in one
// call (POST /api/sync/schedule/:connectionId). If syncNames is empty, every
// sync already in the connection's ActiveSyncs set is rescheduled under the
// new interval instead. A zero intervalMinutes leaves each sync's existing
// interval untouched.
func (e *Engine) ScheduleConnectionSyncs(ctx context.Context, connectionID core.ID, intervalMinutes float64, syncNames []string) error {
	if len(syncNames) == 0 {
		conn, err := e.Connections.Read(ctx, connectionID)
		if err != nil {
			return err
		}
		for name := range conn.ActiveSyncs {
			syncNames = append(syncNames, name)
		}
	}
	for _, name := range syncNames {
		if err := e.ActivateSync(ctx, connectionID, name, intervalMinutes); err != nil {
			return err
		}
	}
	return nil
}

// UnscheduleConnectionSyncs deactivates every active sync for a connection
// (DELETE /api/sync/schedule/:connectionId), leaving the connection itself
// in place.
func (e *Engine) UnscheduleConnectionSyncs(ctx context.Context, connectionID core.ID) error {
	conn, err := e.Connections.Read(ctx, connectionID)
	if err != nil {
		return err
	}
	for name := range conn.ActiveSyncs {
		if err := e.DeactivateSync(ctx, connectionID, name); err != nil {
			return err
		}
	}
	return nil
}

// UpdateConnection replaces a connection's stored record (PUT
// /api/connections/:id). The connector/integration pairing invariant is
// re-validated, matching the same check AddConnection performs at creation.
func (e *Engine) UpdateConnection(ctx context.Context, conn *connection.Connection) error {
	integration, err := e.Registry.Integration(conn.IntegrationID)
	if err != nil {
		return err
	}
	if integration.ConnectorID != conn.ConnectorID {
		return core.Errorf(core.CodeInvalidArgument, "facade: connection %q connectorId does not match integration %q connectorId", conn.ID, conn.IntegrationID)
	}
	cn, err := e.Registry.Connector(conn.ConnectorID)
	if err != nil {
		return err
	}
	if err := validateConnectionConfig(ctx, cn, conn); err != nil {
		return err
	}
	return e.Connections.Update(ctx, conn)
}

// validateConnectionConfig defaults and validates conn.Config against cn's
// ConnectionConfigSchema, writing the defaulted config back onto conn.
func validateConnectionConfig(ctx context.Context, cn *connector.Connector, conn *connection.Connection) error {
	config, err := cn.ConnectionConfigSchema.ApplyDefaults(conn.Config)
	if err != nil {
		return err
	}
	if _, err := cn.ConnectionConfigSchema.Validate(ctx, config); err != nil {
		return err
	}
	conn.Config = config
	return nil
}

// StartFlow starts authentication for integrationId: it looks up the
// integration and its connector, seeds the session context with
// {"integration": integration.Config, "integrationId": integrationId} per
// the spec's Flow Session data model, and primes the session, returning the
// descriptor of the first interactive block (or the terminal result, for a
// flow with no interactive blocks at all).
func (e *Engine) StartFlow(ctx context.Context, integrationID core.ID) (*flow.StepResult, error) {
	integration, err := e.Registry.Integration(integrationID)
	if err != nil {
		return nil, err
	}
	cn, err := e.Registry.Connector(integration.ConnectorID)
	if err != nil {
		return nil, err
	}
	if cn.AuthenticationFlow == nil {
		return nil, core.Errorf(core.CodeInvalidArgument, "facade: connector %q has no authentication flow", cn.ID)
	}
	initialContext := map[string]any{
		"integration":   integration.Config,
		"integrationId": integrationID.String(),
	}
	session, err := e.Sessions.CreateSession(cn.ID, cn.AuthenticationFlow, initialContext)
	if err != nil {
		return nil, err
	}
	return e.Sessions.ExecuteStep(ctx, session.ID, cn.AuthenticationFlow, nil)
}

// StepFlow advances an existing flow session referencing connectorID's
// authentication flow.
func (e *Engine) StepFlow(ctx context.Context, sessionID core.ID, userInput map[string]any) (*flow.StepResult, error) {
	session, err := e.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	cn, err := e.Registry.Connector(session.ConnectorID)
	if err != nil {
		return nil, err
	}
	return e.Sessions.ExecuteStep(ctx, sessionID, cn.AuthenticationFlow, userInput)
}

// GetFlowSession returns the current state of a flow session.
func (e *Engine) GetFlowSession(sessionID core.ID) (*flow.Session, error) {
	return e.Sessions.Get(sessionID)
}

// DeleteFlowSession abandons a flow session before it completes.
func (e *Engine) DeleteFlowSession(sessionID core.ID) {
	e.Sessions.Delete(sessionID)
}

// ExecuteAction runs a connector action against a connection.
func (e *Engine) ExecuteAction(ctx context.Context, connectionID core.ID, actionName string, params core.Input) (*execution.Result, error) {
	return e.Execution.ExecuteAction(ctx, connectionID, actionName, params)
}

// ExecuteSyncNow runs a connector sync job against a connection immediately,
// out of band from its scheduled timer.
func (e *Engine) ExecuteSyncNow(ctx context.Context, connectionID core.ID, syncName string) (*execution.SyncResult, error) {
	return e.Execution.ExecuteSync(ctx, connectionID, syncName)
}

// ListConnections returns a page of connections.
func (e *Engine) ListConnections(ctx context.Context, page, limit int) (*connection.Page, error) {
	return e.Connections.ReadAll(ctx, page, limit)
}

// AddIntegration registers a configured integration against a known
// connector.
func (e *Engine) AddIntegration(integration *connector.Integration) error {
	return e.Registry.AddIntegration(integration)
}

// RemoveIntegration deletes a configured integration, refusing if any
// connection still references it.
func (e *Engine) RemoveIntegration(id core.ID) error {
	return e.Registry.RemoveIntegration(id)
}
