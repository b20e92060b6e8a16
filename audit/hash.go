package audit

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	HashSHA256     = "sha256"
	HashBlake2b256 = "blake2b-256"
)

// HashFunc builds a fresh hash for each entry.
type HashFunc func() hash.Hash

func blake2b256() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// NewHashFunc resolves an AUDIT_HASH_ALGO value.
func NewHashFunc(name string) (HashFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashSHA256:
		return sha256.New, nil
	case HashBlake2b256, "blake2b":
		return blake2b256, nil
	}
	return nil, fmt.Errorf("unsupported audit hash algorithm %q", name)
}
