package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janjagusch/minimalkv"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := New(t.TempDir(), false, false, nil)

	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", []byte("v1")))
	require.NoError(t, store.Put(ctx, "k", []byte("v2")))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, minimalkv.ErrKeyNotFound)
}

func TestStore_EncodedKeysOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir, false, false, nil)

	require.NoError(t, store.Put(ctx, "report 2024/Q1", []byte("v")))

	// The slash is escaped in the basic keyspace, so no subdirectory
	// appears on disk.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report%202024%2FQ1", entries[0].Name())

	keys, err := minimalkv.Keys(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"report 2024/Q1"}, keys)
}

func TestStore_ExtendedKeyspace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir, true, false, nil)

	require.NoError(t, store.Put(ctx, "a/b/c", []byte("v")))

	// Extended keys map to real directories.
	_, err := os.Stat(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)

	keys, err := minimalkv.Keys(ctx, store, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c"}, keys)
}

func TestStore_MissingRoot(t *testing.T) {
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	_, err := New(missing, false, false, nil).Get(ctx, "k")
	require.ErrorIs(t, err, minimalkv.ErrBucketNotFound)

	// With create_if_missing the root is created on first use.
	store := New(missing, false, true, nil)
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	info, err := os.Stat(missing)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_FailedStreamingWriteKeepsOldValue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir, false, false, nil)

	require.NoError(t, store.Put(ctx, "k", []byte("old")))

	src := io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte("z"), 64<<10)),
		iotest.ErrReader(errors.New("source broke")),
	)
	require.Error(t, store.PutReader(ctx, "k", src))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), data)

	// The aborted temp file is gone too.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_ListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := New(dir, false, false, nil)

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "#tmp#123"), []byte("partial"), 0o600))

	keys, err := minimalkv.Keys(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestFromParsedURL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := minimalkv.ParseStoreURL("file://" + dir)
	require.NoError(t, err)

	store, err := FromParsedURL(ctx, p, false)
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir, store.Target())

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestFromParsedURL_NoPath(t *testing.T) {
	p, err := minimalkv.ParseStoreURL("file:///")
	require.NoError(t, err)

	_, err = FromParsedURL(context.Background(), p, false)
	require.Error(t, err)
}

func TestFromURL_Scheme(t *testing.T) {
	ctx := context.Background()
	store, err := minimalkv.FromURL(ctx, "hfile://"+t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "nested/key", []byte("v")))
}
