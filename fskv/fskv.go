package fskv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/janjagusch/minimalkv"
)

// Config describes one connection to a backend namespace.
type Config struct {
	// Target identifies the backend namespace root, e.g.
	// "https://127.0.0.1:9000/mybucket". It participates in store equality
	// but carries no credentials.
	Target string

	// Prefix is the path all keys are mapped under, e.g. "artifacts/".
	Prefix string

	// Extended selects the extended keyspace with /-delimited keys.
	Extended bool

	// WriteOptions are applied to every write.
	WriteOptions WriteOptions

	// Connect builds the backend Filesystem handle. Required.
	Connect ConnectFunc

	// Logger receives debug-level operation logs. Nil disables logging.
	Logger *minimalkv.Logger
}

// Store is a minimalkv.KeyValueStore over a hierarchical-path Filesystem.
//
// Construction is cheap and side-effect-free: the Filesystem handle is
// built lazily on the first operation and cached for the Store's
// lifetime, so stores can be constructed speculatively (the URL factory
// does this to validate bucket names) without paying for client
// initialization.
type Store struct {
	target       string
	prefix       string
	extended     bool
	writeOptions WriteOptions
	connect      ConnectFunc
	logger       *minimalkv.Logger

	// mu guards handle. Holding it across Connect serializes racing
	// first calls so exactly one handle is ever built.
	mu     sync.Mutex
	handle Filesystem
}

var _ minimalkv.KeyValueStore = (*Store)(nil)
var _ minimalkv.URLSigner = (*Store)(nil)
var _ minimalkv.CacheInvalidator = (*Store)(nil)

// New creates a not-yet-connected Store from cfg.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = minimalkv.NoopLogger()
	}
	return &Store{
		target:       cfg.Target,
		prefix:       cfg.Prefix,
		extended:     cfg.Extended,
		writeOptions: maps.Clone(cfg.WriteOptions),
		connect:      cfg.Connect,
		logger:       logger.WithStore(cfg.Target),
	}
}

// Target returns the backend namespace root this store points at.
func (s *Store) Target() string { return s.target }

// Prefix returns the namespace prefix all keys are mapped under.
func (s *Store) Prefix() string { return s.prefix }

// Extended reports whether the store uses the extended keyspace.
func (s *Store) Extended() bool { return s.extended }

// Equal reports whether two stores address the same backend namespace:
// same target, same prefix, same write options. Credentials and stored
// content are excluded, so stores built from URLs differing only in
// credentials compare equal.
func (s *Store) Equal(other *Store) bool {
	if other == nil {
		return false
	}
	return s.target == other.target &&
		s.prefix == other.prefix &&
		s.extended == other.extended &&
		maps.Equal(s.writeOptions, other.writeOptions)
}

// Invalidate drops the cached Filesystem handle. The next operation
// reconnects. If the current handle caches backend metadata, its cache is
// invalidated before it is dropped.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.handle.(CacheInvalidator); ok {
		inv.InvalidateCache()
	}
	s.handle = nil
}

// InvalidateCache implements minimalkv.CacheInvalidator.
func (s *Store) InvalidateCache() { s.Invalidate() }

// fs returns the cached Filesystem handle, building it on first use.
func (s *Store) fs(ctx context.Context) (Filesystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, nil
	}
	handle, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "connected")
	s.handle = handle
	return handle, nil
}

// path maps a validated key to its backend path.
func (s *Store) path(key string) string {
	return s.prefix + minimalkv.EncodeKey(key, s.extended)
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, s.backendErr("get", err)
	}
	return data, nil
}

// Open returns a reader over the value stored under key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return nil, err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return nil, err
	}
	r, err := handle.OpenRead(ctx, s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", minimalkv.ErrKeyNotFound, key)
		}
		return nil, s.backendErr("open", err)
	}
	return r, nil
}

// Put stores data under key, silently overwriting any existing value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return err
	}
	w, err := handle.OpenWrite(ctx, s.path(key), s.writeOptions)
	if err != nil {
		return s.backendErr("put", err)
	}
	if _, err := w.Write(data); err != nil {
		abortWrite(w)
		return s.backendErr("put", err)
	}
	if err := w.Close(); err != nil {
		return s.backendErr("put", err)
	}
	s.logger.WithKey(key).DebugContext(ctx, "put", "bytes", len(data))
	return nil
}

// PutReader streams r into the store under key without buffering the whole
// payload in memory.
func (s *Store) PutReader(ctx context.Context, key string, r io.Reader) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return err
	}
	w, err := handle.OpenWrite(ctx, s.path(key), s.writeOptions)
	if err != nil {
		return s.backendErr("put", err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		// A failed streaming write must leave the key unchanged, so the
		// write is discarded rather than committed truncated.
		abortWrite(w)
		return s.backendErr("put", err)
	}
	if err := w.Close(); err != nil {
		return s.backendErr("put", err)
	}
	s.logger.WithKey(key).DebugContext(ctx, "put", "bytes", n)
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return err
	}
	if err := handle.Delete(ctx, s.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return s.backendErr("delete", err)
	}
	return nil
}

// Exists reports whether key is present without reading its value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return false, err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return false, err
	}
	ok, err := handle.Exists(ctx, s.path(key))
	if err != nil {
		return false, s.backendErr("exists", err)
	}
	return ok, nil
}

// IterKeys lazily yields the keys under the store's namespace that start
// with prefix. Backend paths are decoded back to keys; paths outside the
// store's prefix or with foreign escapes are skipped.
func (s *Store) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		handle, err := s.fs(ctx)
		if err != nil {
			yield("", err)
			return
		}
		full := s.prefix + minimalkv.EncodeKey(prefix, s.extended)
		for path, err := range handle.List(ctx, full) {
			if err != nil {
				yield("", s.backendErr("list", err))
				return
			}
			encoded, ok := strings.CutPrefix(path, s.prefix)
			if !ok {
				continue
			}
			key, err := minimalkv.DecodeKey(encoded)
			if err != nil {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// SignURL returns a time-limited signed URL for key. Fails with
// minimalkv.ErrUnsupportedOperation when the backend cannot sign paths.
func (s *Store) SignURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return "", err
	}
	handle, err := s.fs(ctx)
	if err != nil {
		return "", err
	}
	signer, ok := handle.(PathSigner)
	if !ok {
		return "", minimalkv.ErrUnsupportedOperation
	}
	u, err := signer.SignPath(ctx, s.path(key), expires)
	if err != nil {
		if errors.Is(err, minimalkv.ErrUnsupportedOperation) {
			return "", err
		}
		return "", s.backendErr("sign_url", err)
	}
	return u, nil
}

// abortWrite discards a write in progress. Writers without an abort
// capability are closed, which commits; all backends in this module
// implement WriteAborter.
func abortWrite(w io.WriteCloser) {
	if a, ok := w.(WriteAborter); ok {
		_ = a.Abort()
		return
	}
	_ = w.Close()
}

func (s *Store) backendErr(op string, err error) error {
	return &minimalkv.BackendError{Backend: s.target, Op: op, Err: err}
}
