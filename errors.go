package minimalkv

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by Get and Open when a key does not exist.
	//
	// Implementations return an error that satisfies
	// `errors.Is(err, ErrKeyNotFound)`.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when a key violates the keyspace grammar.
	ErrInvalidKey = errors.New("invalid key")

	// ErrMissingCredentials is returned when neither the connection URL nor
	// the environment supplies a required credential.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrUnsupportedOperation is returned when a capability (for example
	// presigned URLs) is not implemented by the selected backend.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrBucketNotFound is returned when the target bucket or container does
	// not exist and create_if_missing is false.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrReadOnly is returned by write operations on a read-only store.
	ErrReadOnly = errors.New("store is read-only")
)

// BackendError wraps a failure surfaced by the underlying backend client
// (network, auth, quota). It is propagated unmodified with its context and
// never retried or swallowed at this layer.
//
// The original error can be accessed via errors.Unwrap.
type BackendError struct {
	// Backend identifies the backend implementation, e.g. "s3".
	Backend string
	// Op is the failing store operation, e.g. "put".
	Op string
	// Err is the underlying error.
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
