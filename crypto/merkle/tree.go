package merkle

import (
	"crypto/sha256"
	"math/bits"
)

// HashFromByteSlices computes a Merkle tree where the leaves are the byte
// slices, in the provided order. Leaf and inner nodes are domain-separated to
// rule out second-preimage attacks.
func HashFromByteSlices(items [][]byte) []byte {
	switch len(items) {
	case 0:
		return emptyHash()
	case 1:
		return leafHash(items[0])
	default:
		k := getSplitPoint(len(items))
		left := HashFromByteSlices(items[:k])
		right := HashFromByteSlices(items[k:])
		return innerHash(left, right)
	}
}

// returns sha256 of the empty input, which differs from the hash of a single
// empty leaf, sha256(0x00)
func emptyHash() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}

// getSplitPoint returns the largest power of 2 less than length
func getSplitPoint(length int) int {
	if length < 1 {
		panic("trying to split a tree with size < 1")
	}
	uLength := uint(length)
	bitlen := bits.Len(uLength)
	k := 1 << uint(bitlen-1)
	if k == length {
		k >>= 1
	}
	return k
}
