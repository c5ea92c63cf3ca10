// Package fskv adapts a hierarchical-path remote filesystem into a flat
// minimalkv.KeyValueStore.
//
// Backend packages (localfs, s3kv, miniokv, gcskv) supply a Filesystem
// implementation; fskv contributes everything else: key validation, the
// namespace prefix, reversible key-to-path encoding, lazy handle
// construction and the error mapping onto the minimalkv taxonomy.
//
// A Store is cheap to construct and performs no I/O until the first
// operation. The Filesystem handle is built once, on first use, and cached
// for the Store's lifetime; Invalidate drops it so the next operation
// reconnects.
//
//	store := fskv.New(fskv.Config{
//	    Target:  "https://s3.example.com/bucket",
//	    Prefix:  "artifacts/",
//	    Connect: connectFunc,
//	})
package fskv
