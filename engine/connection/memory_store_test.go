package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/core"
)

func TestMemoryStore_CreateReadDeepCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conn := &Connection{
		ID:            core.ID("conn-1"),
		IntegrationID: core.ID("int-1"),
		ConnectorID:   core.ID("connector-1"),
		Config:        map[string]any{"token": "abc"},
	}
	require.NoError(t, store.Create(ctx, conn))
	conn.Config["token"] = "mutated"

	got, err := store.Read(ctx, core.ID("conn-1"))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Config["token"])

	got.Config["token"] = "also-mutated"
	got2, err := store.Read(ctx, core.ID("conn-1"))
	require.NoError(t, err)
	assert.Equal(t, "abc", got2.Config["token"])
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conn := &Connection{ID: core.ID("conn-1")}
	require.NoError(t, store.Create(ctx, conn))
	err := store.Create(ctx, conn)
	require.Error(t, err)
	assert.True(t, core.IsAlreadyExists(err))
}

func TestMemoryStore_Pagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &Connection{ID: core.ID(string(rune('a' + i)))}))
	}
	page, err := store.ReadAll(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNext)
	assert.False(t, page.Pagination.HasPrev)

	last, err := store.ReadAll(ctx, 3, 2)
	require.NoError(t, err)
	assert.Len(t, last.Data, 1)
	assert.False(t, last.Pagination.HasNext)
	assert.True(t, last.Pagination.HasPrev)
}

func TestMemoryStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conn := &Connection{ID: core.ID("conn-1"), Config: map[string]any{"a": 1}}
	require.NoError(t, store.Create(ctx, conn))

	conn.Config["a"] = 2
	require.NoError(t, store.Update(ctx, conn))
	got, err := store.Read(ctx, core.ID("conn-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Config["a"])

	require.NoError(t, store.Delete(ctx, core.ID("conn-1")))
	_, err = store.Read(ctx, core.ID("conn-1"))
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))

	err = store.Delete(ctx, core.ID("conn-1"))
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}
