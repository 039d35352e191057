package apikey

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestCredential(t *testing.T) {
	t.Parallel()

	a := DigestCredential("proj_abc_production_x1")
	b := DigestCredential("proj_abc_production_x2")

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, DigestCredential("proj_abc_production_x1"))
}

func TestMemoryStoreFindByCredential(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put("proj_abc_production_x1", &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusActive,
	})

	record, err := store.FindByCredential(context.Background(), "proj_abc_production_x1")
	require.NoError(t, err)
	assert.Equal(t, "abc", record.ProjectID)

	_, err = store.FindByCredential(context.Background(), "proj_abc_production_other")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreFindByCredentialCancelledContext(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.FindByCredential(ctx, "proj_abc_production_x1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreIncrementUsage(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put("proj_abc_production_x1", &KeyRecord{
		ProjectID: "abc",
		Status:    StatusActive,
	})

	require.NoError(t, store.IncrementUsage(context.Background(), "proj_abc_production_x1"))
	require.NoError(t, store.IncrementUsage(context.Background(), "proj_abc_production_x1"))

	record, err := store.FindByCredential(context.Background(), "proj_abc_production_x1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Usage())
	assert.False(t, record.LastUsedAt.IsZero())

	err = store.IncrementUsage(context.Background(), "proj_abc_production_missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreIncrementUsageConcurrent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put("proj_abc_production_x1", &KeyRecord{
		ProjectID: "abc",
		Status:    StatusActive,
	})

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = store.IncrementUsage(context.Background(), "proj_abc_production_x1")
		}()
	}
	wg.Wait()

	record, err := store.FindByCredential(context.Background(), "proj_abc_production_x1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), record.Usage())
}

func TestMemoryStoreReplace(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put("proj_abc_production_x1", &KeyRecord{ProjectID: "abc", Status: StatusActive})
	require.NoError(t, store.IncrementUsage(context.Background(), "proj_abc_production_x1"))
	require.NoError(t, store.IncrementUsage(context.Background(), "proj_abc_production_x1"))

	store.Replace(map[string]*KeyRecord{
		"proj_abc_production_x1": {ProjectID: "abc", Status: StatusRotated},
		"proj_def_production_y1": {ProjectID: "def", Status: StatusActive},
	})

	assert.Equal(t, 2, store.Count())

	// Surviving credential keeps its usage counter across the swap.
	record, err := store.FindByCredential(context.Background(), "proj_abc_production_x1")
	require.NoError(t, err)
	assert.Equal(t, StatusRotated, record.Status)
	assert.Equal(t, int64(2), record.Usage())
	assert.False(t, record.LastUsedAt.IsZero())

	fresh, err := store.FindByCredential(context.Background(), "proj_def_production_y1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh.Usage())
}

func TestMemoryStoreReplaceDropsRemovedKeys(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put("proj_abc_production_x1", &KeyRecord{ProjectID: "abc", Status: StatusActive})

	store.Replace(map[string]*KeyRecord{})

	assert.Equal(t, 0, store.Count())
	_, err := store.FindByCredential(context.Background(), "proj_abc_production_x1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
