package minimalkv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
)

// Credentials is an access-key/secret-key pair resolved from a connection
// URL or from the process environment.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Empty reports whether no credential half is set.
func (c Credentials) Empty() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == ""
}

// ParsedURL is the transient parsed form of a connection URL:
//
//	scheme://[access_key[:secret_key]@]host[:port]/bucket_or_container[?query]
//
// Recognized query parameters are is_secure (default true),
// create_if_missing (default true) and force_bucket_suffix (default true).
type ParsedURL struct {
	Scheme      string
	Host        string
	Port        string
	Bucket      string
	Credentials Credentials
	Query       url.Values
}

// ParseStoreURL splits a connection URL into its structural parts.
// Credentials present in the URL userinfo are captured; resolution against
// the environment is a separate step (see ResolveCredentials).
func ParseStoreURL(raw string) (*ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("parse store url %q: missing scheme", raw)
	}

	p := &ParsedURL{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   u.Port(),
		Bucket: strings.TrimPrefix(u.Path, "/"),
		Query:  u.Query(),
	}
	if u.User != nil {
		p.Credentials.AccessKeyID = u.User.Username()
		p.Credentials.SecretAccessKey, _ = u.User.Password()
	}
	return p, nil
}

// BoolQuery returns the query parameter name as a bool, or def when absent.
func (p *ParsedURL) BoolQuery(name string, def bool) bool {
	v := p.Query.Get(name)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

// IsSecure reports whether the derived endpoint should use https.
func (p *ParsedURL) IsSecure() bool {
	return p.BoolQuery("is_secure", true)
}

// CreateIfMissing reports whether the target bucket should be created on
// first use if it does not exist.
func (p *ParsedURL) CreateIfMissing() bool {
	return p.BoolQuery("create_if_missing", true)
}

// Endpoint derives the backend endpoint URL from host, port and is_secure.
// Returns "" when the URL names no host, which selects the backend's
// default endpoint.
func (p *ParsedURL) Endpoint() string {
	if p.Host == "" {
		return ""
	}
	scheme := "https"
	if !p.IsSecure() {
		scheme = "http"
	}
	if p.Port == "" {
		return fmt.Sprintf("%s://%s", scheme, p.Host)
	}
	return fmt.Sprintf("%s://%s:%s", scheme, p.Host, p.Port)
}

// BucketName returns the target bucket name, applying force_bucket_suffix:
// unless disabled, the bucket name is suffixed with -<access_key> (lower
// cased) when not already present, giving per-credential namespace
// isolation in shared environments. Fails with ErrMissingCredentials when
// suffixing is requested but no access key is resolvable.
func (p *ParsedURL) BucketName() (string, error) {
	if p.Bucket == "" {
		return "", fmt.Errorf("store url has no bucket path")
	}
	if !p.BoolQuery("force_bucket_suffix", true) {
		return p.Bucket, nil
	}
	if p.Credentials.AccessKeyID == "" {
		return "", fmt.Errorf("%w: force_bucket_suffix needs an access key from the url or environment", ErrMissingCredentials)
	}
	suffix := "-" + strings.ToLower(p.Credentials.AccessKeyID)
	if strings.HasSuffix(strings.ToLower(p.Bucket), suffix) {
		return p.Bucket, nil
	}
	return p.Bucket + suffix, nil
}

// ResolveCredentials fills in credential halves missing from the URL using
// the named environment variables, then writes the resolved pair back into
// the environment so that backend SDK clients constructed without explicit
// credentials still work.
//
// Writing back is a deliberate compatibility shim for clients that only
// read ambient state. The environment is process-wide and unsynchronized:
// resolving URLs with differing credentials concurrently in one process is
// a documented hazard, not a supported configuration. Prefer backends that
// accept the resolved Credentials struct directly.
//
// If exactly one credential half is resolvable, ResolveCredentials fails
// fast with ErrMissingCredentials rather than passing a torn pair on.
func ResolveCredentials(p *ParsedURL, envAccessKey, envSecretKey string) error {
	if p.Credentials.AccessKeyID == "" {
		p.Credentials.AccessKeyID = os.Getenv(envAccessKey)
	}
	if p.Credentials.SecretAccessKey == "" {
		p.Credentials.SecretAccessKey = os.Getenv(envSecretKey)
	}

	if p.Credentials.Empty() {
		return nil
	}
	if p.Credentials.AccessKeyID == "" || p.Credentials.SecretAccessKey == "" {
		return fmt.Errorf("%w: only one of access key and secret key is set", ErrMissingCredentials)
	}

	if err := os.Setenv(envAccessKey, p.Credentials.AccessKeyID); err != nil {
		return err
	}
	return os.Setenv(envSecretKey, p.Credentials.SecretAccessKey)
}

// FromURLFunc constructs a store from a parsed connection URL.
type FromURLFunc func(ctx context.Context, p *ParsedURL) (KeyValueStore, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]FromURLFunc{}
)

// Register makes a store constructor available under the given URL scheme.
// Backend packages call Register from their init functions; importing a
// backend package is what enables its schemes. Register panics on a
// duplicate scheme, mirroring database/sql driver registration.
func Register(scheme string, fn FromURLFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if fn == nil {
		panic("minimalkv: Register with nil constructor")
	}
	if _, dup := registry[scheme]; dup {
		panic("minimalkv: Register called twice for scheme " + scheme)
	}
	registry[scheme] = fn
}

// Schemes returns the sorted list of registered URL schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// FromURL parses a connection URL and dispatches on its scheme to the
// registered store constructor. The returned store is fully configured but
// not yet connected; the backend handle is built lazily on first I/O.
func FromURL(ctx context.Context, raw string) (KeyValueStore, error) {
	p, err := ParseStoreURL(raw)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	fn, ok := registry[p.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store scheme %q (forgotten import of the backend package?)", p.Scheme)
	}
	return fn(ctx, p)
}
