package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size of a Hash in bytes.
const HashSize = sha256.Size

// AddressSize is the size of an Address in bytes.
const AddressSize = 20

// Hash is the sha256 digest identifying blocks and transactions. Being an
// array it is comparable and usable as a map key throughout the codebase.
type Hash [HashSize]byte

// HashBytes returns the digest of b.
func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

// HashFromBytes converts a raw digest into a Hash. It errors if the length
// does not match HashSize.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns an abbreviated hex form for log output.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:4])
}

// Address identifies a transaction sender or recipient.
type Address [AddressSize]byte

func (a Address) Bytes() []byte { return a[:] }

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}
