// Package ddbkv implements the dynamodb:// store scheme on Amazon
// DynamoDB. Unlike the object-store backends this is a direct key-value
// mapping, not a filesystem adapter: each key is an item with the key in
// the partition attribute and the value in a binary attribute.
//
// DynamoDB caps items at 400KB; larger values belong in an object-store
// backend.
package ddbkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/janjagusch/minimalkv"
)

const (
	envAccessKey = "AWS_ACCESS_KEY_ID"
	envSecretKey = "AWS_SECRET_ACCESS_KEY"

	keyAttr   = "k"
	valueAttr = "v"
)

func init() {
	minimalkv.Register("dynamodb", FromParsedURL)
}

// Client is the narrow DynamoDB surface consumed by this package.
// *dynamodb.Client satisfies it; tests substitute a mock.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Options configures store construction.
type Options struct {
	// Extended selects the extended keyspace with /-delimited keys.
	Extended bool
	// CreateIfMissing creates the table on first use when it is absent
	// (pay-per-request billing).
	CreateIfMissing bool
	Logger          *minimalkv.Logger
}

// Store is a minimalkv.KeyValueStore over one DynamoDB table.
type Store struct {
	table    string
	extended bool
	create   bool
	logger   *minimalkv.Logger

	// mu guards lazy table verification; connect may create the table.
	mu      sync.Mutex
	client  Client
	connect func(ctx context.Context) (Client, error)
	ready   bool
}

var _ minimalkv.KeyValueStore = (*Store)(nil)

// New creates a store over an already-constructed client. The table is
// verified (and optionally created) lazily on first use.
func New(client Client, table string, opts Options) *Store {
	s := newStore(table, opts)
	s.connect = func(context.Context) (Client, error) { return client, nil }
	return s
}

func newStore(table string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = minimalkv.NoopLogger()
	}
	return &Store{
		table:    table,
		extended: opts.Extended,
		create:   opts.CreateIfMissing,
		logger:   logger.WithStore("dynamodb://" + table),
	}
}

// FromParsedURL builds a store from a dynamodb:// connection URL:
//
//	dynamodb://access_key:secret_key@[endpoint[:port]]/table[?region=...]
//
// Credentials missing from the URL are resolved from AWS_ACCESS_KEY_ID /
// AWS_SECRET_ACCESS_KEY and written back into the environment. An empty
// host selects the default AWS endpoint; a host addresses a local
// deployment such as dynamodb-local.
func FromParsedURL(_ context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
	if err := minimalkv.ResolveCredentials(p, envAccessKey, envSecretKey); err != nil {
		return nil, err
	}
	if p.Bucket == "" {
		return nil, fmt.Errorf("dynamodb url has no table path")
	}

	endpoint := p.Endpoint()
	region := p.Query.Get("region")
	creds := p.Credentials

	s := newStore(p.Bucket, Options{
		Extended:        p.BoolQuery("extended", false),
		CreateIfMissing: p.CreateIfMissing(),
	})
	s.connect = func(ctx context.Context) (Client, error) {
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
		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}), nil
	}
	return s, nil
}

// db returns the verified client, building it and ensuring the table on
// first use.
func (s *Store) db(ctx context.Context) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return s.client, nil
	}
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, client); err != nil {
		return nil, err
	}
	s.client = client
	s.ready = true
	return client, nil
}

func (s *Store) ensureTable(ctx context.Context, client Client) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return err
	}
	if !s.create {
		return fmt.Errorf("%w: table %s", minimalkv.ErrBucketNotFound, s.table)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(keyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(keyAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			// Lost a creation race; the table exists.
			return nil
		}
		return err
	}
	s.logger.InfoContext(ctx, "created table")
	return nil
}

func (s *Store) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return nil, err
	}
	client, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.backendErr("get", err)
	}
	if resp.Item == nil {
		return nil, fmt.Errorf("%w: %q", minimalkv.ErrKeyNotFound, key)
	}
	value, ok := resp.Item[valueAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, s.backendErr("get", fmt.Errorf("item %q has no binary %s attribute", key, valueAttr))
	}
	return bytes.Clone(value.Value), nil
}

// Open returns a reader over the value stored under key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores data under key, overwriting any existing value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	client, err := s.db(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			keyAttr:   &types.AttributeValueMemberS{Value: key},
			valueAttr: &types.AttributeValueMemberB{Value: data},
		},
	})
	if err != nil {
		return s.backendErr("put", err)
	}
	return nil
}

// PutReader drains r and stores the result under key. DynamoDB has no
// streaming write path, so the payload is buffered.
func (s *Store) PutReader(ctx context.Context, key string, r io.Reader) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}

// Delete removes key. Removing an absent key is a no-op; DynamoDB
// DeleteItem is idempotent by itself.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return err
	}
	client, err := s.db(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return s.backendErr("delete", err)
	}
	return nil
}

// Exists reports whether key is present without fetching its value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := minimalkv.ValidateKey(key, s.extended); err != nil {
		return false, err
	}
	client, err := s.db(ctx)
	if err != nil {
		return false, err
	}
	resp, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.itemKey(key),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": keyAttr},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return false, s.backendErr("exists", err)
	}
	return resp.Item != nil, nil
}

// IterKeys lazily yields all keys starting with prefix, streaming in scan
// pages from DynamoDB.
func (s *Store) IterKeys(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := s.db(ctx)
		if err != nil {
			yield("", err)
			return
		}

		input := &dynamodb.ScanInput{
			TableName:                aws.String(s.table),
			ProjectionExpression:     aws.String("#k"),
			ExpressionAttributeNames: map[string]string{"#k": keyAttr},
		}
		if prefix != "" {
			input.FilterExpression = aws.String("begins_with(#k, :p)")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			}
		}

		paginator := dynamodb.NewScanPaginator(client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", s.backendErr("list", err))
				return
			}
			for _, item := range page.Items {
				attr, ok := item[keyAttr].(*types.AttributeValueMemberS)
				if !ok {
					continue
				}
				if !yield(attr.Value, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) backendErr(op string, err error) error {
	return &minimalkv.BackendError{Backend: "dynamodb://" + s.table, Op: op, Err: err}
}
