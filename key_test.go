package minimalkv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey_Basic(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "simple", key: "foo"},
		{name: "spaces and punctuation", key: "hello world!?#"},
		{name: "unicode", key: "schlüssel-ключ"},
		{name: "dots", key: "a..b"},
		{name: "max length", key: strings.Repeat("k", MaxKeyLength)},
		{name: "empty", key: "", wantErr: true},
		{name: "too long", key: strings.Repeat("k", MaxKeyLength+1), wantErr: true},
		{name: "newline", key: "line\nbreak", wantErr: true},
		{name: "tab", key: "a\tb", wantErr: true},
		{name: "del", key: "a\x7fb", wantErr: true},
		{name: "slash", key: "a/b", wantErr: true},
		{name: "leading slash", key: "/a", wantErr: true},
		{name: "dot dot", key: "..", wantErr: true},
		{name: "invalid utf-8", key: "\xff", wantErr: true},
		{name: "stray continuation byte", key: "a\x80b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key, false)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateKey_Extended(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "hierarchical", key: "a/b/c"},
		{name: "single segment", key: "foo"},
		{name: "dotted segments", key: "a.b/c.d"},
		{name: "leading slash", key: "/a/b", wantErr: true},
		{name: "trailing slash", key: "a/b/", wantErr: true},
		{name: "empty segment", key: "a//b", wantErr: true},
		{name: "traversal", key: "a/../b", wantErr: true},
		{name: "bare traversal", key: "..", wantErr: true},
		{name: "empty", key: "", wantErr: true},
		{name: "invalid utf-8 segment", key: "a/\xffb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key, true)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// Keys rejected in the basic keyspace only because they contain a slash
// must be accepted in the extended keyspace.
func TestValidateKey_SlashOnlyRejection(t *testing.T) {
	for _, key := range []string{"a/b", "x/y/z", "dir/file.bin"} {
		require.ErrorIs(t, ValidateKey(key, false), ErrInvalidKey)
		require.NoError(t, ValidateKey(key, true))
	}
}

func TestEncodeKey_RoundTrip(t *testing.T) {
	keys := []string{
		"simple",
		"with space",
		"percent%sign",
		"unicode-ключ-鍵",
		"punct!@#$^&*()=+[]{}",
		"trailing.dot.",
	}
	for _, key := range keys {
		for _, extended := range []bool{false, true} {
			decoded, err := DecodeKey(EncodeKey(key, extended))
			require.NoError(t, err)
			assert.Equal(t, key, decoded)
		}
	}
}

func TestEncodeKey_ExtendedKeepsSlash(t *testing.T) {
	assert.Equal(t, "a/b%20c", EncodeKey("a/b c", true))
	assert.Equal(t, "a%2Fb%20c", EncodeKey("a/b c", false))

	decoded, err := DecodeKey("a%2Fb%20c")
	require.NoError(t, err)
	assert.Equal(t, "a/b c", decoded)
}

func TestDecodeKey_Malformed(t *testing.T) {
	for _, encoded := range []string{"%", "%2", "%zz", "a%G0b"} {
		_, err := DecodeKey(encoded)
		require.Error(t, err, "encoded=%q", encoded)
	}
}
