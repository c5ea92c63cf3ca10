package minimalkv

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the maximum key length in bytes.
const MaxKeyLength = 256

// ValidateKey checks key against the keyspace grammar. In the basic
// keyspace, keys are printable UTF-8 strings without slashes. The extended
// keyspace additionally permits interior / as a hierarchy separator.
// Path traversal (".." segments), leading or trailing separators and
// empty segments are always rejected.
//
// Validation is pure; no I/O is performed.
func ValidateKey(key string, extended bool) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7F {
			return fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	if !extended {
		if strings.ContainsRune(key, '/') {
			return fmt.Errorf("%w: %q contains / outside the extended keyspace", ErrInvalidKey, key)
		}
		if key == ".." {
			return fmt.Errorf("%w: path traversal in %q", ErrInvalidKey, key)
		}
		return nil
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q has a leading or trailing separator", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" {
			return fmt.Errorf("%w: %q contains an empty segment", ErrInvalidKey, key)
		}
		if segment == ".." {
			return fmt.Errorf("%w: path traversal in %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// keySafe reports whether b needs no escaping in a backend path.
// The unreserved set of RFC 3986.
func keySafe(b byte) bool {
	return b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' ||
		b == '-' || b == '.' || b == '_' || b == '~'
}

const upperhex = "0123456789ABCDEF"

// EncodeKey translates a key into a backend path segment by
// percent-escaping every byte outside the unreserved set. In the extended
// keyspace / is kept literal so hierarchy survives into the backend path.
// DecodeKey reverses the encoding exactly for any key accepted by
// ValidateKey.
func EncodeKey(key string, extended bool) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		if keySafe(b) || (extended && b == '/') {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[b>>4])
		sb.WriteByte(upperhex[b&0xF])
	}
	return sb.String()
}

// DecodeKey reverses EncodeKey. Malformed escapes are returned as an error
// rather than passed through, since they indicate a path not written by
// this library.
func DecodeKey(encoded string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		b := encoded[i]
		if b != '%' {
			sb.WriteByte(b)
			continue
		}
		if i+2 >= len(encoded) {
			return "", fmt.Errorf("truncated escape in %q", encoded)
		}
		hi, ok1 := unhex(encoded[i+1])
		lo, ok2 := unhex(encoded[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("malformed escape in %q", encoded)
		}
		sb.WriteByte(hi<<4 | lo)
		i += 2
	}
	return sb.String(), nil
}

func unhex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}
