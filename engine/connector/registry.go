package connector

import (
	"context"
	"sync"

	"github.com/nexusflow/flowcore/engine/core"
)

// Registry is the in-memory catalog of connectors and their configured
// integrations. The connector catalog is immutable after construction (per
// the spec: connectors are authored, not created at runtime); integrations
// are added and removed at runtime but an integration referenced by a live
// connection cannot be removed.
type Registry struct {
	mu           sync.RWMutex
	connectors   map[core.ID]*Connector
	integrations map[core.ID]*Integration

	// referencedBy counts live connections per integration id, maintained by
	// the engine facade so integration removal can refuse when non-zero.
	referencedBy map[core.ID]int
}

// NewRegistry builds a Registry whose connector catalog is fixed to catalog
// for the lifetime of the Registry.
func NewRegistry(catalog []*Connector) *Registry {
	connectors := make(map[core.ID]*Connector, len(catalog))
	for _, c := range catalog {
		connectors[c.ID] = c
	}
	return &Registry{
		connectors:   connectors,
		integrations: make(map[core.ID]*Integration),
		referencedBy: make(map[core.ID]int),
	}
}

// Connector looks up a catalog entry by id.
func (r *Registry) Connector(id core.ID) (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "connector: %q is not registered", id)
	}
	return c, nil
}

// Connectors returns the full, immutable catalog.
func (r *Registry) Connectors() []*Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}

// AddIntegration registers a configured integration against a known
// connector. The integration's config is defaulted and validated against
// the connector's IntegrationConfigSchema before it is stored, per the
// spec's InvalidArgument error kind ("schema validation failure").
func (r *Registry) AddIntegration(integration *Integration) error {
	if _, err := core.ValidateID(integration.ID.String()); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cn, ok := r.connectors[integration.ConnectorID]
	if !ok {
		return core.Errorf(core.CodeInvalidArgument, "connector: integration references unknown connector %q", integration.ConnectorID)
	}
	if _, exists := r.integrations[integration.ID]; exists {
		return core.Errorf(core.CodeAlreadyExists, "connector: integration %q already exists", integration.ID)
	}
	config, err := cn.IntegrationConfigSchema.ApplyDefaults(integration.Config)
	if err != nil {
		return err
	}
	if _, err := cn.IntegrationConfigSchema.Validate(context.Background(), config); err != nil {
		return err
	}
	integration.Config = config
	r.integrations[integration.ID] = integration
	return nil
}

// Integration looks up a configured integration by id.
func (r *Registry) Integration(id core.ID) (*Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.integrations[id]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "connector: integration %q not found", id)
	}
	return i, nil
}

// Integrations returns every configured integration.
func (r *Registry) Integrations() []*Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Integration, 0, len(r.integrations))
	for _, i := range r.integrations {
		out = append(out, i)
	}
	return out
}

// RemoveIntegration deletes a configured integration, refusing if any
// connection still references it.
func (r *Registry) RemoveIntegration(id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.integrations[id]; !ok {
		return core.Errorf(core.CodeNotFound, "connector: integration %q not found", id)
	}
	if r.referencedBy[id] > 0 {
		return core.Errorf(core.CodeInvalidArgument, "connector: integration %q is referenced by %d connection(s)", id, r.referencedBy[id])
	}
	delete(r.integrations, id)
	delete(r.referencedBy, id)
	return nil
}

// MarkReferenced increments the live-connection count for an integration.
// Called by the engine facade when a connection is created.
func (r *Registry) MarkReferenced(integrationID core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referencedBy[integrationID]++
}

// Unreference decrements the live-connection count for an integration.
// Called by the engine facade when a connection is deleted.
func (r *Registry) Unreference(integrationID core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.referencedBy[integrationID] > 0 {
		r.referencedBy[integrationID]--
	}
}
