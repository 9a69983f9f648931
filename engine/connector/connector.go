// Package connector holds the static, authored catalog of connectors: the
// third-party services a connection can be created against, along with the
// actions, syncs, and authentication flow each one exposes.
package connector

import (
	"context"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/engine/flow"
	"github.com/nexusflow/flowcore/engine/ratelimit"
	"github.com/nexusflow/flowcore/engine/schema"
)

// ActionHandler performs one synchronous unit of work against a connection's
// already-authenticated config.
type ActionHandler func(ctx context.Context, connectionConfig map[string]any, params core.Input) (core.Output, error)

// SyncHandler pulls or pushes data for a scheduled sync job. It receives the
// metadata its previous run left on the connection and returns the metadata
// (e.g. a cursor or last-seen id) the execution core stores on the
// connection for the next invocation; a nil return leaves it unchanged.
type SyncHandler func(ctx context.Context, connectionConfig map[string]any, metadata map[string]any) (map[string]any, error)

// ActionDef describes one action a connector exposes.
type ActionDef struct {
	Name        string
	Description string
	InputSchema schema.Schema
	OutputSchema schema.Schema
	Handler     ActionHandler
	MaxRetries  int
	Timeout     time.Duration
}

// SyncDef describes one scheduled sync job a connector exposes. OutputSchema
// documents the shape of the metadata the handler persists between runs; it
// is descriptive (surfaced to callers inspecting the connector) rather than
// enforced, since the metadata a sync hands back is its own continuation
// state rather than a value owed to an external caller.
type SyncDef struct {
	Name         string
	Description  string
	OutputSchema schema.Schema
	Handler      SyncHandler
	MaxRetries   int
	Timeout      time.Duration
}

// Connector is the static, authored definition of an integrable service. It
// never changes at runtime; Integration and Connection values reference it
// by ID.
type Connector struct {
	ID          core.ID
	Name        string
	Version     string
	Author      string
	Logo        string
	DocURL      string
	Description string
	Categories  []string
	Tags        []string

	IntegrationConfigSchema schema.Schema
	ConnectionConfigSchema  schema.Schema

	AuthenticationFlow *flow.Flow
	Refresh            flow.RefreshFunc

	Actions map[string]ActionDef
	Syncs   map[string]SyncDef

	RateLimit *ratelimit.Policy
}

// Action looks up an action definition by name.
func (c *Connector) Action(name string) (ActionDef, bool) {
	def, ok := c.Actions[name]
	return def, ok
}

// Sync looks up a sync definition by name.
func (c *Connector) Sync(name string) (SyncDef, bool) {
	def, ok := c.Syncs[name]
	return def, ok
}

// HasSync reports whether name is one of this connector's declared syncs;
// used to validate a connection's activeSyncs set (invariant: every active
// sync name must be a key in the owning connector's Syncs map).
func (c *Connector) HasSync(name string) bool {
	_, ok := c.Syncs[name]
	return ok
}

// ActionSummary is the sanitized, wire-safe description of one action: its
// name, description, and retry/timeout policy, with no input/output schema
// and no handler body.
type ActionSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	MaxRetries  int           `json:"maxRetries"`
	Timeout     time.Duration `json:"timeout"`
}

// SyncSummary is the sanitized, wire-safe description of one sync.
type SyncSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	MaxRetries  int           `json:"maxRetries"`
	Timeout     time.Duration `json:"timeout"`
}

// Summary is the connector DTO returned over HTTP (GET /api/connectors):
// every field a remote caller needs to pick and configure a connector,
// with schemas and handler bodies stripped per the spec's sanitization
// rule. It exists because *Connector itself holds function-valued fields
// (Handler, Refresh) encoding/json cannot marshal.
type Summary struct {
	ID          core.ID             `json:"id"`
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Author      string              `json:"author"`
	Logo        string              `json:"logo,omitempty"`
	DocURL      string              `json:"docUrl,omitempty"`
	Description string              `json:"description"`
	Categories  []string            `json:"categories,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	RateLimit   *ratelimit.Policy   `json:"rateLimit,omitempty"`
	Actions     []ActionSummary     `json:"actions"`
	Syncs       []SyncSummary       `json:"syncs"`
}

// Sanitize strips schemas and handler bodies from c, returning the shape
// safe to serialize over the HTTP surface.
func (c *Connector) Sanitize() Summary {
	actions := make([]ActionSummary, 0, len(c.Actions))
	for _, a := range c.Actions {
		actions = append(actions, ActionSummary{Name: a.Name, Description: a.Description, MaxRetries: a.MaxRetries, Timeout: a.Timeout})
	}
	syncs := make([]SyncSummary, 0, len(c.Syncs))
	for _, sy := range c.Syncs {
		syncs = append(syncs, SyncSummary{Name: sy.Name, Description: sy.Description, MaxRetries: sy.MaxRetries, Timeout: sy.Timeout})
	}
	return Summary{
		ID: c.ID, Name: c.Name, Version: c.Version, Author: c.Author, Logo: c.Logo, DocURL: c.DocURL,
		Description: c.Description, Categories: c.Categories, Tags: c.Tags, RateLimit: c.RateLimit,
		Actions: actions, Syncs: syncs,
	}
}

// Integration is a configured instance of a Connector: typically one set of
// OAuth application credentials or API base settings shared by every
// Connection created under it.
type Integration struct {
	ID          core.ID        `json:"id"`
	ConnectorID core.ID        `json:"connectorId"`
	Name        string         `json:"name"`
	Config      map[string]any `json:"config,omitempty"`
}
