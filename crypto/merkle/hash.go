package merkle

import "crypto/sha256"

var (
	leafPrefix  = []byte{0}
	innerPrefix = []byte{1}
)

// returns sha256(0x00 || leaf)
func leafHash(leaf []byte) []byte {
	h := sha256.New()
	h.Write(leafPrefix)
	h.Write(leaf)
	return h.Sum(nil)
}

// returns sha256(0x01 || left || right)
func innerHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(innerPrefix)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
