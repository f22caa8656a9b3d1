package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Comparator compares two keys, returning <0, 0, or >0 per the usual Go
// convention. The hash table only ever inspects the zero case (spec.md
// §6's "Collaborator contracts consumed: only the equality case is
// used"); anything satisfying that is a valid Comparator.
type Comparator func(a, b uint64) int

// DefaultComparator orders keys numerically. Only its zero result is load
// bearing; the ordering itself is unobserved by the index.
func DefaultComparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// HashFunc maps a key to a 64-bit digest; the index keeps only the low 32
// bits of it (spec.md §6).
type HashFunc func(key uint64) uint64

// DefaultHash hashes the key's 8-byte big-endian encoding with xxHash64.
// xxHash is a non-cryptographic hash chosen for throughput, the same
// reasoning that put it behind Ristretto's admission policy in the other
// cache implementation in this retrieval set.
func DefaultHash(key uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}
