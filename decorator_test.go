package minimalkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPrefixDecorator(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	outer := PrefixDecorator(inner, "ns1_")

	require.NoError(t, outer.Put(ctx, "key", []byte("v")))

	// The inner store sees the prefixed key.
	data, err := inner.Get(ctx, "ns1_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	// The decorator strips the prefix on the way out.
	data, err = outer.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	// Keys outside the prefix are invisible.
	require.NoError(t, inner.Put(ctx, "ns2_other", []byte("x")))
	keys, err := Keys(ctx, outer, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, keys)

	ok, err := outer.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, outer.Delete(ctx, "key"))
	ok, err = inner.Exists(ctx, "ns1_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "k", []byte("v")))

	store := ReadOnly(inner)

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	require.ErrorIs(t, store.Put(ctx, "k", []byte("w")), ErrReadOnly)
	require.ErrorIs(t, store.Delete(ctx, "k"), ErrReadOnly)

	// The write never reached the inner store.
	data, err = inner.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestRateLimited(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := RateLimited(inner, rate.NewLimiter(rate.Inf, 1))

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	keys, err := Keys(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, store.Delete(ctx, "k"))
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimited_CanceledContext(t *testing.T) {
	inner := NewMemoryStore()
	// Zero rate: Wait can never be satisfied, so cancellation surfaces.
	store := RateLimited(inner, rate.NewLimiter(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, store.Put(ctx, "k", []byte("v")))
}
