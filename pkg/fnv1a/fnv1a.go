// Package fnv1a is the single FNV-1a (32-bit) primitive shared by reminder
// identities and index-store checksums.
//
// The accumulator arithmetic is the standard one: start at the offset basis,
// then for every byte XOR it in and multiply by the FNV prime, truncating to
// 32 bits at each step. Identities derived from it must stay stable across
// releases, so do not change the byte order or the mask.
package fnv1a

import "hash/fnv"

const (
	OffsetBasis uint32 = 2166136261
	Prime       uint32 = 16777619

	// Mask31 clears the top bit so values fit a signed 32-bit platform id.
	Mask31 uint32 = 0x7FFFFFFF
)

// Sum32 hashes b. Empty input returns OffsetBasis.
func Sum32(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

// String hashes the UTF-8 bytes of s.
func String(s string) uint32 {
	return Sum32([]byte(s))
}

// String31 hashes s and masks the result into [0, 2^31-1].
func String31(s string) uint32 {
	return String(s) & Mask31
}
