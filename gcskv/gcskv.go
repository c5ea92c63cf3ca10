// Package gcskv implements the gcs:// and hgcs:// store schemes on Google
// Cloud Storage.
package gcskv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/janjagusch/minimalkv"
	"github.com/janjagusch/minimalkv/fskv"
)

func init() {
	minimalkv.Register("gcs", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, false)
	})
	minimalkv.Register("hgcs", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, true)
	})
}

// Options configures store construction.
type Options struct {
	Prefix          string
	Extended        bool
	WriteOptions    fskv.WriteOptions
	CreateIfMissing bool
	// Project is the project buckets are created under when
	// CreateIfMissing is set.
	Project string
	// ClientOptions are passed to storage.NewClient, e.g.
	// option.WithCredentialsFile or option.WithEndpoint for emulators.
	ClientOptions []option.ClientOption
	Logger        *minimalkv.Logger
}

// New creates a store over a bucket. The storage client is built lazily on
// first use with opts.ClientOptions; credential lookup follows Google
// application default credentials.
func New(bucket string, opts Options) *fskv.Store {
	return fskv.New(fskv.Config{
		Target:       "gcs://" + bucket,
		Prefix:       opts.Prefix,
		Extended:     opts.Extended,
		WriteOptions: opts.WriteOptions,
		Logger:       opts.Logger,
		Connect: func(ctx context.Context) (fskv.Filesystem, error) {
			client, err := storage.NewClient(ctx, opts.ClientOptions...)
			if err != nil {
				return nil, err
			}
			return connect(ctx, client, bucket, opts.Project, opts.CreateIfMissing)
		},
	})
}

// FromParsedURL builds a store from a gcs:// connection URL:
//
//	gcs:///bucket[?query]
//	gcs://emulator-host:port/bucket[?query]
//
// Recognized query parameters beyond the common ones: project (for bucket
// creation) and credentials_file (service-account JSON path). Credentials
// otherwise follow Google application default credentials; GCS URLs carry
// no userinfo credentials and bucket suffixing does not apply.
func FromParsedURL(_ context.Context, p *minimalkv.ParsedURL, extended bool) (*fskv.Store, error) {
	if p.Bucket == "" {
		return nil, fmt.Errorf("gcs url has no bucket path")
	}

	opts := Options{
		Extended:        extended,
		CreateIfMissing: p.CreateIfMissing(),
		Project:         p.Query.Get("project"),
	}
	if file := p.Query.Get("credentials_file"); file != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsFile(file))
	}
	if endpoint := p.Endpoint(); endpoint != "" {
		// A host in a gcs URL addresses an emulator such as
		// fake-gcs-server.
		opts.ClientOptions = append(opts.ClientOptions,
			option.WithEndpoint(endpoint+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	}
	return New(p.Bucket, opts), nil
}

func connect(ctx context.Context, client *storage.Client, bucket, project string, createIfMissing bool) (fskv.Filesystem, error) {
	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		if !errors.Is(err, storage.ErrBucketNotExist) {
			return nil, err
		}
		if !createIfMissing {
			return nil, fmt.Errorf("%w: %s", minimalkv.ErrBucketNotFound, bucket)
		}
		if err := handle.Create(ctx, project, nil); err != nil {
			return nil, err
		}
	}
	return &fsys{bucket: handle}, nil
}

// fsys implements fskv.Filesystem over one GCS bucket.
type fsys struct {
	bucket *storage.BucketHandle
}

func (f *fsys) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := f.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return nil, err
	}
	return r, nil
}

func (f *fsys) OpenWrite(ctx context.Context, path string, opts fskv.WriteOptions) (io.WriteCloser, error) {
	// The writer gets its own cancelable context so Abort can fail the
	// upload; Close on a storage.Writer always commits.
	wctx, cancel := context.WithCancel(ctx)
	w := f.bucket.Object(path).NewWriter(wctx)
	for name, value := range opts {
		switch name {
		case fskv.OptStorageClass:
			w.StorageClass = value
		case fskv.OptACL:
			if value == "public-read" {
				w.PredefinedACL = "publicRead"
			}
		default:
			if w.Metadata == nil {
				w.Metadata = map[string]string{}
			}
			w.Metadata[name] = value
		}
	}
	return &abortableWriter{w: w, cancel: cancel}, nil
}

// abortableWriter makes a storage.Writer discardable: Abort cancels the
// upload context before closing, so the object is never committed.
type abortableWriter struct {
	w      *storage.Writer
	cancel context.CancelFunc
}

func (a *abortableWriter) Write(p []byte) (int, error) { return a.w.Write(p) }

func (a *abortableWriter) Close() error {
	err := a.w.Close()
	a.cancel()
	return err
}

func (a *abortableWriter) Abort() error {
	a.cancel()
	_ = a.w.Close()
	return nil
}

func (f *fsys) Delete(ctx context.Context, path string) error {
	err := f.bucket.Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (f *fsys) Exists(ctx context.Context, path string) (bool, error) {
	_, err := f.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *fsys) List(ctx context.Context, pathPrefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := f.bucket.Objects(ctx, &storage.Query{Prefix: pathPrefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}

// defaultSignExpiry stands in for "no expiry requested"; GCS V4 signing
// caps signed URLs at seven days.
const defaultSignExpiry = 7 * 24 * time.Hour

// SignPath implements fskv.PathSigner.
func (f *fsys) SignPath(_ context.Context, path string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = defaultSignExpiry
	}
	return f.bucket.SignedURL(path, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expires),
		Scheme:  storage.SigningSchemeV4,
	})
}
