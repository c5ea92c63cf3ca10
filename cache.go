package minimalkv

import (
	"context"
	"errors"
	"io"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Cache pairs a fast front store with an authoritative back store.
// Reads are served from the front when possible and fall back to the
// back; Get populates the front on the way out, Open streams from the
// back without populating. Writes and deletes are applied to both
// stores. Listing and existence checks always consult the back store,
// which holds the complete namespace.
//
// The usual pairing is an in-memory or local-filesystem front with an
// object-store back.
func Cache(front, back KeyValueStore) KeyValueStore {
	return &cacheStore{front: front, back: back}
}

type cacheStore struct {
	front KeyValueStore
	back  KeyValueStore
}

func (s *cacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.front.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	data, err = s.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Best effort; a failed cache fill must not fail the read.
	_ = s.front.Put(ctx, key, data)
	return data, nil
}

func (s *cacheStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.front.Open(ctx, key)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	return s.back.Open(ctx, key)
}

func (s *cacheStore) Put(ctx context.Context, key string, data []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.back.Put(gctx, key, data) })
	g.Go(func() error { return s.front.Put(gctx, key, data) })
	return g.Wait()
}

func (s *cacheStore) PutReader(ctx context.Context, key string, r io.Reader) error {
	// The payload is streamed to the back store only; the front copy is
	// dropped so the next Get refills it.
	if err := s.front.Delete(ctx, key); err != nil {
		return err
	}
	return s.back.PutReader(ctx, key, r)
}

func (s *cacheStore) Delete(ctx context.Context, key string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.back.Delete(gctx, key) })
	g.Go(func() error { return s.front.Delete(gctx, key) })
	return g.Wait()
}

func (s *cacheStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.back.Exists(ctx, key)
}

func (s *cacheStore) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.back.IterKeys(ctx, prefix)
}
