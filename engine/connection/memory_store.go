package connection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
)

// MemoryStore is an in-memory Store. Every value crossing its API boundary
// is deep-copied on the way in and out so callers can never mutate another
// caller's view of a stored connection, mirroring the store-owns-its-data
// discipline the teacher's resource store applies to Put/Get.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[core.ID]*Connection
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{connections: make(map[core.ID]*Connection)}
}

func cloneConnection(c *Connection) (*Connection, error) {
	var configCopy map[string]any
	if c.Config != nil {
		copied, err := core.DeepCopyValue(c.Config)
		if err != nil {
			return nil, err
		}
		configCopy = copied
	}
	activeSyncs := make(map[string]struct{}, len(c.ActiveSyncs))
	for k := range c.ActiveSyncs {
		activeSyncs[k] = struct{}{}
	}
	metadata := make(map[string]map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		if v == nil {
			metadata[k] = nil
			continue
		}
		copied, err := core.DeepCopyValue(v)
		if err != nil {
			return nil, err
		}
		metadata[k] = copied
	}
	clone := *c
	clone.Config = configCopy
	clone.ActiveSyncs = activeSyncs
	clone.Metadata = metadata
	return &clone, nil
}

// Create inserts a new connection, failing with AlreadyExists if its ID is
// already taken.
func (s *MemoryStore) Create(ctx context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[conn.ID]; exists {
		return core.Errorf(core.CodeAlreadyExists, "connection: %q already exists", conn.ID)
	}
	now := time.Now()
	conn.CreatedAt, conn.UpdatedAt = now, now
	stored, err := cloneConnection(conn)
	if err != nil {
		return core.NewError(err, core.CodeInternal, nil)
	}
	s.connections[conn.ID] = stored
	return nil
}

// Read fetches one connection by id.
func (s *MemoryStore) Read(ctx context.Context, id core.ID) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.connections[id]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "connection: %q not found", id)
	}
	return cloneConnection(stored)
}

// ReadAll lists connections ordered by id, paginated.
func (s *MemoryStore) ReadAll(ctx context.Context, page, limit int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]core.ID, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	var data []*Connection
	if start < total {
		end := start + limit
		if end > total {
			end = total
		}
		data = make([]*Connection, 0, end-start)
		for _, id := range ids[start:end] {
			clone, err := cloneConnection(s.connections[id])
			if err != nil {
				return nil, core.NewError(err, core.CodeInternal, nil)
			}
			data = append(data, clone)
		}
	}
	return &Page{
		Data: data,
		Pagination: Pagination{
			Page: page, Limit: limit, Total: total, TotalPages: totalPages,
			HasNext: page < totalPages, HasPrev: page > 1,
		},
	}, nil
}

// Update replaces a connection's stored value in place.
func (s *MemoryStore) Update(ctx context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.connections[conn.ID]
	if !ok {
		return core.Errorf(core.CodeNotFound, "connection: %q not found", conn.ID)
	}
	conn.CreatedAt = existing.CreatedAt
	conn.UpdatedAt = time.Now()
	stored, err := cloneConnection(conn)
	if err != nil {
		return core.NewError(err, core.CodeInternal, nil)
	}
	s.connections[conn.ID] = stored
	return nil
}

// Delete removes a connection. It is not idempotent: deleting a missing id
// is a NotFound error so callers can distinguish "already gone" from a
// stray write, matching the rest of the store's error contract.
func (s *MemoryStore) Delete(ctx context.Context, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return core.Errorf(core.CodeNotFound, "connection: %q not found", id)
	}
	delete(s.connections, id)
	return nil
}
