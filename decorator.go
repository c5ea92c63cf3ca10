package minimalkv

import (
	"context"
	"io"
	"iter"
	"strings"

	"golang.org/x/time/rate"
)

// PrefixDecorator exposes the subset of a store living under prefix as a
// store of its own. Keys are mapped to prefix+key on the way in and
// stripped on the way out; keys outside the prefix are invisible.
func PrefixDecorator(inner KeyValueStore, prefix string) KeyValueStore {
	return &prefixStore{inner: inner, prefix: prefix}
}

type prefixStore struct {
	inner  KeyValueStore
	prefix string
}

func (s *prefixStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *prefixStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Open(ctx, s.prefix+key)
}

func (s *prefixStore) Put(ctx context.Context, key string, data []byte) error {
	return s.inner.Put(ctx, s.prefix+key, data)
}

func (s *prefixStore) PutReader(ctx context.Context, key string, r io.Reader) error {
	return s.inner.PutReader(ctx, s.prefix+key, r)
}

func (s *prefixStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *prefixStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+key)
}

func (s *prefixStore) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for key, err := range s.inner.IterKeys(ctx, s.prefix+prefix) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(strings.TrimPrefix(key, s.prefix), nil) {
				return
			}
		}
	}
}

// ReadOnly wraps a store so that every write operation fails with
// ErrReadOnly. Reads pass through unchanged.
func ReadOnly(inner KeyValueStore) KeyValueStore {
	return &readOnlyStore{inner: inner}
}

type readOnlyStore struct {
	inner KeyValueStore
}

func (s *readOnlyStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s *readOnlyStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Open(ctx, key)
}

func (s *readOnlyStore) Put(context.Context, string, []byte) error {
	return ErrReadOnly
}

func (s *readOnlyStore) PutReader(context.Context, string, io.Reader) error {
	return ErrReadOnly
}

func (s *readOnlyStore) Delete(context.Context, string) error {
	return ErrReadOnly
}

func (s *readOnlyStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

func (s *readOnlyStore) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.inner.IterKeys(ctx, prefix)
}

// RateLimited wraps a store so that every backend call first waits on the
// limiter. One token is consumed per operation; listing consumes one token
// per page-sized batch of keys. Useful against per-request priced or
// throttled backends.
func RateLimited(inner KeyValueStore, limiter *rate.Limiter) KeyValueStore {
	return &rateLimitedStore{inner: inner, limiter: limiter}
}

type rateLimitedStore struct {
	inner   KeyValueStore
	limiter *rate.Limiter
}

// listBatchSize is the number of listed keys charged as one operation.
const listBatchSize = 1000

func (s *rateLimitedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, key)
}

func (s *rateLimitedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.inner.Open(ctx, key)
}

func (s *rateLimitedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.inner.Put(ctx, key, data)
}

func (s *rateLimitedStore) PutReader(ctx context.Context, key string, r io.Reader) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.inner.PutReader(ctx, key, r)
}

func (s *rateLimitedStore) Delete(ctx context.Context, key string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.inner.Delete(ctx, key)
}

func (s *rateLimitedStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return s.inner.Exists(ctx, key)
}

func (s *rateLimitedStore) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		n := 0
		for key, err := range s.inner.IterKeys(ctx, prefix) {
			if err != nil {
				yield("", err)
				return
			}
			if n%listBatchSize == 0 {
				if werr := s.limiter.Wait(ctx); werr != nil {
					yield("", werr)
					return
				}
			}
			n++
			if !yield(key, nil) {
				return
			}
		}
	}
}
