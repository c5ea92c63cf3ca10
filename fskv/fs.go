package fskv

import (
	"context"
	"io"
	"iter"
	"time"
)

// WriteOptions carries backend-specific write parameters applied to every
// write, e.g. a storage class or ACL. Backends interpret the keys they
// know and ignore the rest.
type WriteOptions map[string]string

// Conventional WriteOptions keys understood by the object-store backends.
const (
	// OptStorageClass selects the backend storage class for written
	// objects, e.g. "REDUCED_REDUNDANCY" on S3.
	OptStorageClass = "storage_class"
	// OptACL sets a canned ACL on written objects, e.g. "public-read".
	OptACL = "acl"
)

// Filesystem is the hierarchical-path capability consumed by Store.
// Implementations wrap one backend client scoped to one bucket or root
// directory.
//
// Absent paths are reported with errors satisfying
// errors.Is(err, fs.ErrNotExist); Store maps them onto the minimalkv
// error taxonomy. All other errors are passed through untouched and
// wrapped into minimalkv.BackendError by Store.
type Filesystem interface {
	// OpenRead opens the object at path for reading.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens the object at path for writing, replacing any
	// existing object. The write takes effect when the returned writer is
	// closed. Writers should implement WriteAborter so a failed write can
	// be discarded without committing partial data.
	OpenWrite(ctx context.Context, path string, opts WriteOptions) (io.WriteCloser, error)

	// Delete removes the object at path. Deleting an absent path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// List lazily yields the paths of all objects under pathPrefix,
	// streaming in pages from the backend. Order is backend-defined.
	List(ctx context.Context, pathPrefix string) iter.Seq2[string, error]
}

// WriteAborter is an optional capability of OpenWrite writers. Abort
// discards the write in progress, leaving the backend unchanged; the
// writer must not be used afterwards.
type WriteAborter interface {
	Abort() error
}

// PathSigner is an optional Filesystem capability for backends that can
// mint presigned object URLs. expires == 0 requests the backend default.
type PathSigner interface {
	SignPath(ctx context.Context, path string, expires time.Duration) (string, error)
}

// CacheInvalidator is an optional Filesystem capability for backends that
// keep local metadata caches.
type CacheInvalidator interface {
	InvalidateCache()
}

// ConnectFunc builds the Filesystem handle. It is called at most once per
// connected period of a Store, on the first I/O operation, and may perform
// network calls (client construction, bucket lookup or creation).
type ConnectFunc func(ctx context.Context) (Filesystem, error)
