// Package commitment implements the one-way word commitment used by the
// player who moves first.
//
// A commitment is Keccak-256 (legacy Keccak, not NIST SHA3) of the UTF-8 bytes
// of the word, which matches what Ethereum tooling calls `id(word)`.
package commitment

import (
	"crypto/subtle"

	"golang.org/x/crypto/sha3"
)

const HashSize = 32

// Hash is a commitment to a secret word.
type Hash [HashSize]byte

// Commit returns the commitment for word.
func Commit(word string) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(word))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Verify reports whether word opens the commitment h.
func Verify(word string, h Hash) bool {
	got := Commit(word)
	return subtle.ConstantTimeCompare(got[:], h[:]) == 1
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}
