package minimalkv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressed_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, codec := range []Codec{ZstdCodec(), LZ4Codec()} {
		t.Run(codec.Name(), func(t *testing.T) {
			inner := NewMemoryStore()
			store := Compressed(inner, codec)

			payload := bytes.Repeat([]byte("compress me "), 10000)
			require.NoError(t, store.Put(ctx, "k", payload))

			// The stored representation is the codec's, not the plaintext.
			raw, err := inner.Get(ctx, "k")
			require.NoError(t, err)
			assert.NotEqual(t, payload, raw)
			assert.Less(t, len(raw), len(payload))

			data, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, data))
		})
	}
}

func TestCompressed_StreamingRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := Compressed(inner, ZstdCodec())

	text := strings.Repeat("streaming payload ", 5000)
	require.NoError(t, store.PutReader(ctx, "k", strings.NewReader(text)))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, text, string(data))
}

// rejectingStore fails every streaming write without reading the payload.
type rejectingStore struct {
	KeyValueStore
}

func (s *rejectingStore) PutReader(context.Context, string, io.Reader) error {
	return errors.New("backend rejected the write")
}

func TestCompressed_RejectedWriteReleasesPipe(t *testing.T) {
	ctx := context.Background()
	store := Compressed(&rejectingStore{NewMemoryStore()}, ZstdCodec())

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		require.Error(t, store.PutReader(ctx, "k", strings.NewReader("payload")))
	}

	// The compressing goroutines must unblock once the write fails.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, time.Second, 10*time.Millisecond)
}

func TestCompressed_EmptyValue(t *testing.T) {
	ctx := context.Background()
	store := Compressed(NewMemoryStore(), ZstdCodec())

	require.NoError(t, store.Put(ctx, "empty", nil))
	data, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestCompressed_PassThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := Compressed(inner, LZ4Codec())

	require.NoError(t, store.Put(ctx, "k", []byte("v")))

	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := Keys(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
