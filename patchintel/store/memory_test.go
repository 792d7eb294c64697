package store

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()

	require.NoError(t, kv.SetValue(ctx, "ingest:run:1", "a"))
	require.NoError(t, kv.SetValueWithTTL(ctx, "ingest:run:2", "b", 60))
	require.NoError(t, kv.SetValue(ctx, "stats:summary", "c"))

	resp, err := kv.GetValue(ctx, "ingest:run:2")
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Message.Value)

	keys, err := kv.ListKeys(ctx, "ingest:run:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"ingest:run:1", "ingest:run:2"}, keys)

	require.NoError(t, kv.DeleteValue(ctx, "ingest:run:1"))
	_, err = kv.GetValue(ctx, "ingest:run:1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
