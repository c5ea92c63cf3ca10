package gcskv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janjagusch/minimalkv"
)

func TestNew_Target(t *testing.T) {
	store := New("bucket", Options{Prefix: "p/"})
	assert.Equal(t, "gcs://bucket", store.Target())
	assert.Equal(t, "p/", store.Prefix())
	assert.False(t, store.Extended())
}

func TestFromParsedURL(t *testing.T) {
	ctx := context.Background()

	t.Run("bucket only", func(t *testing.T) {
		p, err := minimalkv.ParseStoreURL("gcs:///mybucket")
		require.NoError(t, err)

		// Construction is lazy: no client is built, no network touched.
		store, err := FromParsedURL(ctx, p, false)
		require.NoError(t, err)
		assert.Equal(t, "gcs://mybucket", store.Target())
	})

	t.Run("extended keyspace", func(t *testing.T) {
		p, err := minimalkv.ParseStoreURL("hgcs:///mybucket")
		require.NoError(t, err)

		store, err := FromParsedURL(ctx, p, true)
		require.NoError(t, err)
		assert.True(t, store.Extended())
	})

	t.Run("no bucket suffixing", func(t *testing.T) {
		// GCS URLs carry no userinfo credentials, so the bucket name is
		// used verbatim.
		p, err := minimalkv.ParseStoreURL("gcs:///mybucket")
		require.NoError(t, err)

		store, err := FromParsedURL(ctx, p, false)
		require.NoError(t, err)
		assert.Equal(t, "gcs://mybucket", store.Target())
	})

	t.Run("missing bucket", func(t *testing.T) {
		p, err := minimalkv.ParseStoreURL("gcs:///")
		require.NoError(t, err)

		_, err = FromParsedURL(ctx, p, false)
		require.Error(t, err)
	})

	t.Run("equality", func(t *testing.T) {
		p1, err := minimalkv.ParseStoreURL("gcs:///b?project=x")
		require.NoError(t, err)
		p2, err := minimalkv.ParseStoreURL("gcs:///b?project=y")
		require.NoError(t, err)

		a, err := FromParsedURL(ctx, p1, false)
		require.NoError(t, err)
		b, err := FromParsedURL(ctx, p2, false)
		require.NoError(t, err)

		// The project only matters for bucket creation, not identity.
		assert.True(t, a.Equal(b))
	})
}
