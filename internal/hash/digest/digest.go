// Package digest provides the hex digests used as model labels.
package digest

import (
	"crypto/sha1" //nolint:gosec // labels must match databases written with SHA-1
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Supported algorithm names.
const (
	SHA1   = "sha1"
	SHA256 = "sha256"
)

// Hasher implements emissary.Hasher for a fixed algorithm.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for algorithm (sha1 or sha256).
func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case SHA1:
		return &Hasher{algorithm: SHA1, newHash: sha1.New}, nil
	case SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm names the digest in use.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := h.newHash()
	if _, err := d.Write(data); err != nil {
		return "", fmt.Errorf("write %s digest: %w", h.algorithm, err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
