package minimalkv

import (
	"bytes"
	"context"
	"io"
	"iter"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a streaming compression codec used by the Compressed decorator.
type Codec interface {
	// Name identifies the codec, e.g. "zstd".
	Name() string
	// NewWriter returns a writer that compresses into w. The stream is
	// finalized on Close.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader returns a reader that decompresses from r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// ZstdCodec returns a zstd Codec at the default compression level.
func ZstdCodec() Codec { return zstdCodec{} }

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// LZ4Codec returns an lz4 Codec. Faster but less dense than zstd.
func LZ4Codec() Codec { return lz4Codec{} }

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Compressed wraps a store so that values are compressed with codec before
// being written and decompressed on read. Keys, existence checks and
// listings are unaffected. Values written through the decorator are only
// readable through a decorator with the same codec.
func Compressed(inner KeyValueStore, codec Codec) KeyValueStore {
	return &compressedStore{inner: inner, codec: codec}
}

type compressedStore struct {
	inner KeyValueStore
	codec Codec
}

func (s *compressedStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *compressedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	raw, err := s.inner.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := s.codec.NewReader(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &chainedCloser{ReadCloser: dec, next: raw}, nil
}

func (s *compressedStore) Put(ctx context.Context, key string, data []byte) error {
	var buf bytes.Buffer
	w, err := s.codec.NewWriter(&buf)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return s.inner.Put(ctx, key, buf.Bytes())
}

func (s *compressedStore) PutReader(ctx context.Context, key string, r io.Reader) error {
	pr, pw := io.Pipe()
	go func() {
		cw, err := s.codec.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(cw, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := cw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	err := s.inner.PutReader(ctx, key, pr)
	// Unblock the compressing goroutine when the inner store returned
	// without draining the pipe.
	pr.CloseWithError(err)
	return err
}

func (s *compressedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *compressedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

func (s *compressedStore) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.inner.IterKeys(ctx, prefix)
}

// chainedCloser closes the decompressor and then the underlying stream.
type chainedCloser struct {
	io.ReadCloser
	next io.Closer
}

func (c *chainedCloser) Close() error {
	err := c.ReadCloser.Close()
	if nerr := c.next.Close(); err == nil {
		err = nerr
	}
	return err
}
