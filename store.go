package minimalkv

import (
	"context"
	"io"
	"iter"
	"time"
)

// KeyValueStore is the uniform contract implemented by every backend.
//
// Implementations are safe for concurrent use. All operations are direct
// blocking calls into the backend client; callers needing parallelism run
// operations on separate goroutines. Operations on different keys have no
// ordering relationship, and concurrent writes to the same key resolve to
// the backend's last-write-wins semantics.
type KeyValueStore interface {
	// Get returns the value stored under key.
	// Returns an error satisfying errors.Is(err, ErrKeyNotFound) if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Open returns a reader for the value stored under key.
	// The caller must close the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores data under key, silently overwriting any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// PutReader streams r into the store under key. Equivalent to Put but
	// without materializing the payload in memory first.
	PutReader(ctx context.Context, key string, r io.Reader) error

	// Delete removes key. Deleting a non-existent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present without reading its value.
	Exists(ctx context.Context, key string) (bool, error)

	// IterKeys yields the keys in the store, optionally filtered to those
	// starting with prefix. The sequence is lazy and streams in pages from
	// the backend; iteration order is backend-defined. A backend failure is
	// yielded as the final non-nil error.
	IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error]
}

// URLSigner is an optional capability for stores that can mint time-limited
// access URLs for single objects. Probe with a type assertion or use the
// SignURL helper.
type URLSigner interface {
	// SignURL returns a signed URL granting temporary read access to key.
	// expires == 0 requests no expiry constraint; the backend default
	// applies.
	SignURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// CacheInvalidator is an optional capability for stores whose backend keeps
// local metadata caches.
type CacheInvalidator interface {
	InvalidateCache()
}

// SignURL probes store for the URLSigner capability and delegates to it.
// Returns ErrUnsupportedOperation when the backend cannot sign URLs.
func SignURL(ctx context.Context, store KeyValueStore, key string, expires time.Duration) (string, error) {
	signer, ok := store.(URLSigner)
	if !ok {
		return "", ErrUnsupportedOperation
	}
	return signer.SignURL(ctx, key, expires)
}

// Keys drains a key iterator into a slice. Intended for small namespaces
// and tests; large namespaces should consume IterKeys directly.
func Keys(ctx context.Context, store KeyValueStore, prefix string) ([]string, error) {
	var keys []string
	for key, err := range store.IterKeys(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
