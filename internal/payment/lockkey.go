package payment

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/slawa19/geoledger/internal/idtype"
)

// segmentLockKey computes the deterministic 64-bit signed advisory-lock
// key for a directed (from, to, equivalent) segment: SHA-256 over the
// concatenated raw ID bytes, first 8 bytes read as a big-endian signed
// int64. Grounded on the original implementation's _segment_lock_key.
func segmentLockKey(equivalent, from, to idtype.ID) int64 {
	h := sha256.New()
	h.Write(equivalent[:])
	h.Write(from[:])
	h.Write(to[:])
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// segment identifies a directed (from, to) pair within one equivalent.
type segment struct {
	From, To, Equivalent idtype.ID
}

// sortedLockKeys collects the unique advisory-lock keys for segs and
// returns them sorted ascending, so every concurrent prepare acquires
// them in the same order and none can deadlock against another.
func sortedLockKeys(segs []segment) []int64 {
	seen := make(map[int64]bool)
	keys := make([]int64, 0, len(segs))
	for _, s := range segs {
		k := segmentLockKey(s.Equivalent, s.From, s.To)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
