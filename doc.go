// Package minimalkv provides a uniform key-value storage API over
// heterogeneous backends: local filesystem, in-memory, S3, MinIO,
// Google Cloud Storage and DynamoDB.
//
// Every store implements the same KeyValueStore contract, so code written
// against the interface runs unchanged on any backend. Stores can be built
// directly from connection URLs:
//
//	import (
//	    "github.com/janjagusch/minimalkv"
//	    _ "github.com/janjagusch/minimalkv/s3kv" // registers the s3:// and hs3:// schemes
//	)
//
//	store, err := minimalkv.FromURL(ctx, "s3://ak:sk@127.0.0.1:9000/mybucket?is_secure=false")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = store.Put(ctx, "answer", []byte("42"))
//	data, _ := store.Get(ctx, "answer")
//
// Backend packages register their URL schemes on import, database/sql
// style. The supported schemes are:
//
//	memory:// hmemory://    in-memory store (this package)
//	file://   hfile://      local filesystem (package localfs)
//	s3://     hs3://        AWS S3 or S3-compatible (package s3kv)
//	minio://  hminio://     MinIO (package miniokv)
//	gcs://    hgcs://       Google Cloud Storage (package gcskv)
//	dynamodb://             DynamoDB (package ddbkv)
//
// The h-prefixed schemes select the extended keyspace, which permits
// /-delimited hierarchical keys.
//
// # Keys
//
// Keys are validated before every operation. The basic keyspace allows
// printable keys of up to 256 bytes without slashes; the extended
// keyspace additionally allows / as a hierarchy separator. Path
// traversal (".." segments) is always rejected.
//
// # Capabilities
//
// Optional behavior is modeled as capability interfaces. A store backed
// by an object store that supports presigned URLs implements URLSigner;
// probe for it with a type assertion or use the SignURL helper:
//
//	url, err := minimalkv.SignURL(ctx, store, "answer", 15*time.Minute)
//
// # Decorators
//
// Stores compose. PrefixDecorator partitions a namespace, ReadOnly
// rejects writes, RateLimited throttles backend calls, Cache pairs a
// fast front store with a slow back store, and Compressed compresses
// values transparently:
//
//	cached := minimalkv.Cache(minimalkv.NewMemoryStore(), store)
//	packed := minimalkv.Compressed(store, minimalkv.ZstdCodec())
package minimalkv
