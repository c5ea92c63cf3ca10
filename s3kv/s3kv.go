// Package s3kv implements the s3:// and hs3:// store schemes on AWS S3 and
// S3-compatible services via aws-sdk-go-v2.
package s3kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/janjagusch/minimalkv"
	"github.com/janjagusch/minimalkv/fskv"
)

const (
	envAccessKey = "AWS_ACCESS_KEY_ID"
	envSecretKey = "AWS_SECRET_ACCESS_KEY"
)

func init() {
	minimalkv.Register("s3", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, false)
	})
	minimalkv.Register("hs3", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, true)
	})
}

// Client is the narrow S3 surface consumed by this package. *s3.Client
// satisfies it; tests substitute a mock.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Options configures store construction.
type Options struct {
	// Prefix is prepended to every key's backend path, e.g. "artifacts/".
	Prefix string
	// Extended selects the extended keyspace with /-delimited keys.
	Extended bool
	// WriteOptions are applied to every write. OptStorageClass and OptACL
	// map to the S3 storage class and canned ACL; remaining entries become
	// custom object metadata.
	WriteOptions fskv.WriteOptions
	// CreateIfMissing creates the bucket at first use when it is absent.
	CreateIfMissing bool
	// Logger receives debug-level operation logs.
	Logger *minimalkv.Logger
}

// New creates a store over an already-constructed client. The bucket is
// looked up (and optionally created) lazily on first use. Presigned URLs
// are only available when client is a *s3.Client; other clients lack the
// signing capability.
func New(client Client, bucket string, opts Options) *fskv.Store {
	return fskv.New(fskv.Config{
		Target:       "s3://" + bucket,
		Prefix:       opts.Prefix,
		Extended:     opts.Extended,
		WriteOptions: opts.WriteOptions,
		Logger:       opts.Logger,
		Connect: func(ctx context.Context) (fskv.Filesystem, error) {
			return connect(ctx, client, bucket, opts.CreateIfMissing)
		},
	})
}

// FromParsedURL builds a store from an s3:// connection URL:
//
//	s3://access_key:secret_key@endpoint[:port]/bucket[?query]
//
// Credentials missing from the URL are resolved from AWS_ACCESS_KEY_ID /
// AWS_SECRET_ACCESS_KEY and written back into the environment (see
// minimalkv.ResolveCredentials for the concurrency hazard). An empty host
// selects the default AWS endpoint; is_secure=false derives an http
// endpoint for local deployments. The client itself is built lazily on
// first I/O.
func FromParsedURL(_ context.Context, p *minimalkv.ParsedURL, extended bool) (*fskv.Store, error) {
	if err := minimalkv.ResolveCredentials(p, envAccessKey, envSecretKey); err != nil {
		return nil, err
	}
	bucket, err := p.BucketName()
	if err != nil {
		return nil, err
	}

	endpoint := p.Endpoint()
	region := p.Query.Get("region")
	creds := p.Credentials
	createIfMissing := p.CreateIfMissing()

	target := "s3://" + bucket
	if endpoint != "" {
		target = endpoint + "/" + bucket
	}

	return fskv.New(fskv.Config{
		Target:   target,
		Extended: extended,
		Connect: func(ctx context.Context) (fskv.Filesystem, error) {
			loadOpts := []func(*config.LoadOptions) error{}
			if region != "" {
				loadOpts = append(loadOpts, config.WithRegion(region))
			}
			if !creds.Empty() {
				loadOpts = append(loadOpts, config.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
				))
			}
			cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
			if err != nil {
				return nil, err
			}
			client := s3.NewFromConfig(cfg, func(o *s3.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
					// Local S3-compatible deployments rarely speak
					// virtual-hosted addressing.
					o.UsePathStyle = true
				}
			})
			return connect(ctx, client, bucket, createIfMissing)
		},
	}), nil
}

// connect verifies (or creates) the bucket and assembles the filesystem.
func connect(ctx context.Context, client Client, bucket string, createIfMissing bool) (fskv.Filesystem, error) {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if !isBucketMissing(err) {
			return nil, err
		}
		if !createIfMissing {
			return nil, fmt.Errorf("%w: %s", minimalkv.ErrBucketNotFound, bucket)
		}
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, err
		}
	}

	fsys := &fsys{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
	if real, ok := client.(*s3.Client); ok {
		fsys.presign = s3.NewPresignClient(real)
	}
	return fsys, nil
}

func isBucketMissing(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nb *types.NoSuchBucket
	if errors.As(err, &nb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}

// fsys implements fskv.Filesystem over one S3 bucket.
type fsys struct {
	client   Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
}

func (f *fsys) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isObjectMissing(err) {
			return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (f *fsys) OpenWrite(ctx context.Context, path string, opts fskv.WriteOptions) (io.WriteCloser, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	}
	for name, value := range opts {
		switch name {
		case fskv.OptStorageClass:
			input.StorageClass = types.StorageClass(value)
		case fskv.OptACL:
			input.ACL = types.ObjectCannedACL(value)
		default:
			if input.Metadata == nil {
				input.Metadata = map[string]string{}
			}
			input.Metadata[name] = value
		}
	}

	pr, pw := io.Pipe()
	input.Body = pr

	w := &pipeWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := f.uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (f *fsys) Delete(ctx context.Context, path string) error {
	// S3 DeleteObject succeeds for absent keys, which matches the
	// idempotent contract directly.
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	return err
}

func (f *fsys) Exists(ctx context.Context, path string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isObjectMissing(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *fsys) List(ctx context.Context, pathPrefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(f.bucket),
			Prefix: aws.String(pathPrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", err)
				return
			}
			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

// SignPath implements fskv.PathSigner. expires == 0 leaves the SDK's
// default presign lifetime in place.
func (f *fsys) SignPath(ctx context.Context, path string, expires time.Duration) (string, error) {
	if f.presign == nil {
		return "", minimalkv.ErrUnsupportedOperation
	}
	var presignOpts []func(*s3.PresignOptions)
	if expires > 0 {
		presignOpts = append(presignOpts, s3.WithPresignExpires(expires))
	}
	req, err := f.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(path),
	}, presignOpts...)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func isObjectMissing(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// pipeWriter feeds the background upload; Close finalizes the upload and
// reports its result, Abort fails it so nothing is committed.
type pipeWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool
}

var errWriteAborted = errors.New("write aborted")

func (w *pipeWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

// Abort implements fskv.WriteAborter by failing the pipe, which makes the
// background upload error out instead of completing with a partial body.
func (w *pipeWriter) Abort() error {
	if !w.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	w.pw.CloseWithError(errWriteAborted)
	<-w.done
	return nil
}
