package cache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultNamespace tags every key computed by ticket-tagger. Bumping the
// version suffix orphans all existing records.
const DefaultNamespace = "ticket-tagger/http-cache/v1"

// keySize is the digest length in bytes (128 bits).
const keySize = 16

// ErrMissingAuthorization is returned by IdentityKey when the request
// carries no Authorization header.
var ErrMissingAuthorization = errors.New("cache: identity-scoped key requires an Authorization header")

// HeaderSource is a read-only view over request headers. http.Header,
// HeaderMap and HeaderPairs all satisfy it.
type HeaderSource interface {
	Get(name string) string
}

// HeaderMap is a single-valued header map with case-insensitive lookup.
type HeaderMap map[string]string

// Get returns the value for name. An exact-case entry wins; otherwise the
// first case-insensitive match in sorted key order is returned.
func (h HeaderMap) Get(name string) string {
	if value, ok := h[name]; ok {
		return value
	}
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.EqualFold(key, name) {
			return h[key]
		}
	}
	return ""
}

// HeaderPairs is a flat name/value list: {"Authorization", "Bearer x", ...}.
type HeaderPairs []string

// Get returns the value of the first pair whose name matches
// case-insensitively. A trailing name without a value is ignored.
func (h HeaderPairs) Get(name string) string {
	for i := 0; i+1 < len(h); i += 2 {
		if strings.EqualFold(h[i], name) {
			return h[i+1]
		}
	}
	return ""
}

// KeyComputer maps a request to a stable cache key.
type KeyComputer interface {
	ComputeKey(rawURL string, header HeaderSource) (string, error)
}

// URLKey derives keys from the namespace and URL only. Use it for
// identity-agnostic resources.
type URLKey struct {
	Namespace string
}

// ComputeKey implements KeyComputer. The header is ignored.
func (k URLKey) ComputeKey(rawURL string, _ HeaderSource) (string, error) {
	return digest(namespaceOrDefault(k.Namespace), "url", rawURL), nil
}

// IdentityKey derives keys from the namespace, URL and Authorization value.
// Two requests for the same URL under different credentials never share a
// key.
type IdentityKey struct {
	Namespace string
}

// ComputeKey implements KeyComputer. It fails with ErrMissingAuthorization
// when header is nil or has no Authorization value.
func (k IdentityKey) ComputeKey(rawURL string, header HeaderSource) (string, error) {
	if header == nil {
		return "", ErrMissingAuthorization
	}
	authorization := header.Get("Authorization")
	if authorization == "" {
		return "", ErrMissingAuthorization
	}
	return digest(namespaceOrDefault(k.Namespace), "identity", rawURL, authorization), nil
}

func namespaceOrDefault(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

// digest hashes length-prefixed parts with blake3 and returns the first
// keySize bytes hex-encoded. Length prefixes keep ("ab","c") and ("a","bc")
// apart.
func digest(parts ...string) string {
	hasher := blake3.New()
	var length [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(length[:], uint64(len(part)))
		hasher.Write(length[:])
		hasher.Write([]byte(part))
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:keySize])
}

// Digest exposes the key hash for other packages that need an opaque,
// non-reversible identifier (e.g. rate-limit buckets derived from tokens).
func Digest(parts ...string) string {
	return digest(parts...)
}
