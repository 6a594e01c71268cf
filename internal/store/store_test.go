package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkCrossContext проверяет общий контракт: запись видна обоим контекстам,
// а уведомление получает только контекст, который её не делал.
func checkCrossContext(t *testing.T, a, b Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changesA, err := a.Watch(ctx)
	require.NoError(t, err)
	changesB, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "cart-updated", "1"))

	v, ok, err := b.Get(ctx, "cart-updated")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	select {
	case c := <-changesB:
		assert.Equal(t, Change{Key: "cart-updated"}, c)
	case <-ctx.Done():
		t.Fatalf("context B did not observe the change")
	}

	select {
	case c := <-changesA:
		t.Fatalf("writer observed its own change: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, b.Delete(ctx, "cart-updated"))

	select {
	case c := <-changesA:
		assert.Equal(t, Change{Key: "cart-updated", Deleted: true}, c)
	case <-ctx.Done():
		t.Fatalf("context A did not observe the delete")
	}

	_, ok, err = a.Get(ctx, "cart-updated")
	require.NoError(t, err)
	assert.False(t, ok)
}
