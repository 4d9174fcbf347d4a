package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrMissingHashKey is returned when the keyed-hash secret is not configured.
// The service cannot run without it: every blocklist lookup depends on
// deterministic hashes, so a missing key is a boot failure, not a warning.
var ErrMissingHashKey = errors.New("vault: hash key is not configured")

// IndexHashLength is the number of hex characters in a short index hash.
const IndexHashLength = 16

// Hasher produces keyed, normalized one-way hashes of sensitive values.
// The same logical value always hashes identically across the service, so
// blacklist membership can be tested without ever storing plaintext.
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher from the configured secret key.
func NewHasher(key string) (*Hasher, error) {
	if key == "" {
		return nil, ErrMissingHashKey
	}
	return &Hasher{key: []byte(key)}, nil
}

// normalize lowercases and trims a value so that trivial case/whitespace
// variants of the same input cannot evade a blocklist entry.
func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Hash returns the hex-encoded HMAC-SHA256 of the normalized value.
func (h *Hasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(normalize(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

// IndexHash returns the first 16 hex characters of Hash(value). Used for
// short lookup keys where the full digest is unnecessarily wide.
func (h *Hasher) IndexHash(value string) string {
	return h.Hash(value)[:IndexHashLength]
}

// CompositeHash hashes several values as one unit. Values are sorted before
// joining so the hash is independent of argument order.
func (h *Hasher) CompositeHash(values ...string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return h.Hash(strings.Join(sorted, "|"))
}

// Verify reports whether value hashes to expectedHex, in constant time.
func (h *Hasher) Verify(value, expectedHex string) bool {
	computed := h.Hash(value)
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(expectedHex)))
}
