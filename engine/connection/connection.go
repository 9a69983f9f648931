// Package connection implements the Connection entity and its pluggable
// storage contract: a connection is one authenticated, schedulable binding
// between an integration and an external account.
package connection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
)

// SyncSet is the set of sync names currently scheduled for a connection. It
// marshals as a JSON string array (the wire shape spec.md's data model
// describes) while staying a map internally for O(1) membership checks.
type SyncSet map[string]struct{}

func (s SyncSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return json.Marshal(names)
}

func (s *SyncSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set := make(SyncSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	*s = set
	return nil
}

// Connection is one authenticated binding between an Integration and an
// external account, carrying whatever config its connector's authentication
// flow produced plus any user-facing sync scheduling the caller has opted
// into.
type Connection struct {
	ID            core.ID                   `json:"id"`
	ExternalID    string                    `json:"externalId,omitempty"`
	IntegrationID core.ID                   `json:"integrationId"`
	ConnectorID   core.ID                   `json:"connectorId"`
	Config        map[string]any            `json:"config,omitempty"`
	SyncInterval  float64                   `json:"syncInterval"` // minutes; <= 0 means unscheduled
	ActiveSyncs   SyncSet                   `json:"activeSyncs,omitempty"`
	Metadata      map[string]map[string]any `json:"metadata,omitempty"` // per-sync state returned by the sync handler (e.g. a cursor)
	CreatedAt     time.Time                 `json:"createdAt"`
	UpdatedAt     time.Time                 `json:"updatedAt"`
}

// Page is one page of a paginated listing, matching the shape the spec's
// connection listing endpoint returns.
type Page struct {
	Data       []*Connection `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// Pagination describes a Page's position within the full result set.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Store is the pluggable CRUD+pagination contract every connection backend
// implements (in-memory for tests and single-node deployments, or a durable
// backend in production).
type Store interface {
	Create(ctx context.Context, conn *Connection) error
	Read(ctx context.Context, id core.ID) (*Connection, error)
	ReadAll(ctx context.Context, page, limit int) (*Page, error)
	Update(ctx context.Context, conn *Connection) error
	Delete(ctx context.Context, id core.ID) error
}
