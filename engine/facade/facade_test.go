package facade

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/connection"
	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/core"
)

func testConnector() *connector.Connector {
	return &connector.Connector{
		ID:   core.ID("slack"),
		Name: "Slack",
		Syncs: map[string]connector.SyncDef{
			"channels": {
				Name: "channels",
				Handler: func(ctx context.Context, cfg map[string]any, meta map[string]any) (map[string]any, error) {
					return map[string]any{"ran": true}, nil
				},
			},
		},
	}
}

// TestEngine_AddConnection_SchedulesActiveSyncs covers scenario 5: adding a
// connection with an active sync and a sync interval wires a running timer.
func TestEngine_AddConnection_SchedulesActiveSyncs(t *testing.T) {
	e, err := New([]*connector.Connector{testConnector()}, time.Hour)
	require.NoError(t, err)
	defer e.Destroy()

	integration := &connector.Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, e.AddIntegration(integration))

	conn := &connection.Connection{
		ID: core.ID("conn-1"), IntegrationID: core.ID("int-1"), ConnectorID: core.ID("slack"),
		SyncInterval: 1.0 / 60 / 1000 * 20, // ~20ms, expressed in minutes
		ActiveSyncs:  map[string]struct{}{"channels": {}},
	}
	require.NoError(t, e.AddConnection(context.Background(), conn))

	jobs := e.Scheduler.JobsForConnection(core.ID("conn-1"))
	require.Len(t, jobs, 1)
	assert.Equal(t, "channels", jobs[0].SyncName)
}

// TestEngine_AddConnection_RejectsUnknownSync covers the invariant that a
// connection's activeSyncs must be keys in its connector's sync map.
func TestEngine_AddConnection_RejectsUnknownSync(t *testing.T) {
	e, err := New([]*connector.Connector{testConnector()}, time.Hour)
	require.NoError(t, err)
	defer e.Destroy()

	integration := &connector.Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, e.AddIntegration(integration))

	conn := &connection.Connection{
		ID: core.ID("conn-1"), IntegrationID: core.ID("int-1"), ConnectorID: core.ID("slack"),
		ActiveSyncs: map[string]struct{}{"nonexistent": {}},
	}
	err = e.AddConnection(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, core.IsInvalidArgument(err))
}

// TestEngine_RemoveConnection_UnschedulesFirst covers P9's connection-side
// half: removing a connection stops its jobs before the row disappears.
func TestEngine_RemoveConnection_UnschedulesFirst(t *testing.T) {
	var runs int32
	cn := testConnector()
	cn.Syncs["channels"] = connector.SyncDef{
		Name: "channels",
		Handler: func(ctx context.Context, cfg map[string]any, meta map[string]any) (map[string]any, error) {
			atomic.AddInt32(&runs, 1)
			return nil, nil
		},
	}
	e, err := New([]*connector.Connector{cn}, time.Hour)
	require.NoError(t, err)
	defer e.Destroy()

	integration := &connector.Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, e.AddIntegration(integration))
	conn := &connection.Connection{
		ID: core.ID("conn-1"), IntegrationID: core.ID("int-1"), ConnectorID: core.ID("slack"),
		SyncInterval: 0.0003, // ~18ms
		ActiveSyncs:  map[string]struct{}{"channels": {}},
	}
	require.NoError(t, e.AddConnection(context.Background(), conn))

	require.NoError(t, e.RemoveConnection(context.Background(), core.ID("conn-1")))
	assert.Empty(t, e.Scheduler.JobsForConnection(core.ID("conn-1")))

	_, err = e.Connections.Read(context.Background(), core.ID("conn-1"))
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

// TestEngine_Destroy_Idempotent covers P9: destroying the engine twice must
// not panic.
func TestEngine_Destroy_Idempotent(t *testing.T) {
	e, err := New([]*connector.Connector{testConnector()}, time.Hour)
	require.NoError(t, err)
	e.Destroy()
	e.Destroy()
}

// TestEngine_AddConnection_RejectsConnectorMismatch covers P8: a connection
// whose connectorId differs from its integration's connectorId is refused.
func TestEngine_AddConnection_RejectsConnectorMismatch(t *testing.T) {
	other := &connector.Connector{ID: core.ID("notion"), Name: "Notion"}
	e, err := New([]*connector.Connector{testConnector(), other}, time.Hour)
	require.NoError(t, err)
	defer e.Destroy()

	integration := &connector.Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, e.AddIntegration(integration))

	conn := &connection.Connection{
		ID: core.ID("conn-1"), IntegrationID: core.ID("int-1"), ConnectorID: core.ID("notion"),
	}
	err = e.AddConnection(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, core.IsInvalidArgument(err))

	_, err = e.Connections.Read(context.Background(), core.ID("conn-1"))
	assert.True(t, core.IsNotFound(err))
}
