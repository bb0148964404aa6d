// Package sha256 derives stable content keys for cached article bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath maps an article link to a sharded blob path such as
// "bodies/ab/abcdef....json".
func (h *Hasher) ObjectPath(prefix, link string) string {
	digest, _ := h.Hash([]byte(link))
	return prefix + "/" + digest[:2] + "/" + digest + ".json"
}
