package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/core"
)

func testCatalog() []*Connector {
	return []*Connector{
		{
			ID:   core.ID("slack"),
			Name: "Slack",
			Syncs: map[string]SyncDef{
				"channels": {Name: "channels"},
			},
			Actions: map[string]ActionDef{
				"postMessage": {Name: "postMessage"},
			},
		},
	}
}

func TestRegistry_ConnectorCatalogIsImmutable(t *testing.T) {
	r := NewRegistry(testCatalog())

	c, err := r.Connector(core.ID("slack"))
	require.NoError(t, err)
	assert.Equal(t, "Slack", c.Name)

	_, err = r.Connector(core.ID("notion"))
	assert.True(t, core.IsNotFound(err))

	assert.Len(t, r.Connectors(), 1)
}

func TestConnector_HasSync(t *testing.T) {
	c := testCatalog()[0]
	assert.True(t, c.HasSync("channels"))
	assert.False(t, c.HasSync("messages"))

	_, ok := c.Sync("channels")
	assert.True(t, ok)
	_, ok = c.Action("postMessage")
	assert.True(t, ok)
	_, ok = c.Action("missing")
	assert.False(t, ok)
}

func TestRegistry_AddIntegration_UnknownConnector(t *testing.T) {
	r := NewRegistry(testCatalog())
	err := r.AddIntegration(&Integration{ID: core.ID("int-1"), ConnectorID: core.ID("notion")})
	assert.True(t, core.IsInvalidArgument(err))
}

func TestRegistry_AddIntegration_Duplicate(t *testing.T) {
	r := NewRegistry(testCatalog())
	integration := &Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, r.AddIntegration(integration))

	err := r.AddIntegration(integration)
	assert.True(t, core.IsAlreadyExists(err))
}

func TestRegistry_RemoveIntegration_RefusesWhileReferenced(t *testing.T) {
	r := NewRegistry(testCatalog())
	integration := &Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, r.AddIntegration(integration))

	r.MarkReferenced(integration.ID)

	err := r.RemoveIntegration(integration.ID)
	require.Error(t, err)

	r.Unreference(integration.ID)
	require.NoError(t, r.RemoveIntegration(integration.ID))

	_, err = r.Integration(integration.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestRegistry_Unreference_NeverGoesNegative(t *testing.T) {
	r := NewRegistry(testCatalog())
	integration := &Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}
	require.NoError(t, r.AddIntegration(integration))

	r.Unreference(integration.ID)
	require.NoError(t, r.RemoveIntegration(integration.ID))
}

func TestRegistry_Integrations_ListsAll(t *testing.T) {
	r := NewRegistry(testCatalog())
	require.NoError(t, r.AddIntegration(&Integration{ID: core.ID("int-1"), ConnectorID: core.ID("slack")}))
	require.NoError(t, r.AddIntegration(&Integration{ID: core.ID("int-2"), ConnectorID: core.ID("slack")}))
	assert.Len(t, r.Integrations(), 2)
}
