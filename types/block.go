package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cobaltchain/cobalt/crypto/merkle"
)

// TimestampDriftMax bounds how far into the future a block timestamp may lie
// and still verify.
const TimestampDriftMax = 10 * time.Minute

var (
	ErrFutureTimestamp  = errors.New("block timestamp too far in the future")
	ErrBadInterlinkRoot = errors.New("interlink root mismatch")
	ErrBadBodyRoot      = errors.New("body root mismatch")
)

// Header carries the consensus-relevant fields of a block. The interlink is a
// list of ancestor hashes at exponentially increasing depths; it is what block
// proofs chain over.
type Header struct {
	Height        uint32
	Time          uint64 // unix seconds
	PrevHash      Hash
	BodyRoot      Hash
	InterlinkRoot Hash
	Interlink     []Hash

	hashOnce sync.Once
	hash     Hash
}

// Hash returns the header digest, computed once and cached.
func (h *Header) Hash() Hash {
	h.hashOnce.Do(func() {
		h.hash = HashBytes(h.serialize())
	})
	return h.hash
}

func (h *Header) serialize() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, h.Height) //nolint:errcheck
	binary.Write(buf, binary.BigEndian, h.Time)   //nolint:errcheck
	buf.Write(h.PrevHash[:])
	buf.Write(h.BodyRoot[:])
	buf.Write(h.InterlinkRoot[:])
	return buf.Bytes()
}

// ComputeInterlinkRoot derives the root commitment over the interlink hashes.
func (h *Header) ComputeInterlinkRoot() Hash {
	items := make([][]byte, len(h.Interlink))
	for i, ih := range h.Interlink {
		items[i] = ih.Bytes()
	}
	root, _ := HashFromBytes(merkle.HashFromByteSlices(items))
	return root
}

// Verify checks the header's internal consistency against the given wall
// clock time.
func (h *Header) Verify(now time.Time) error {
	if int64(h.Time) > now.Add(TimestampDriftMax).Unix() {
		return ErrFutureTimestamp
	}
	if h.ComputeInterlinkRoot() != h.InterlinkRoot {
		return ErrBadInterlinkRoot
	}
	return nil
}

// IsInterlinkSuccessorOf reports whether the header directly references
// predecessor, either as its immediate parent or through its interlink.
func (h *Header) IsInterlinkSuccessorOf(predecessor *Header) bool {
	target := predecessor.Hash()
	if h.PrevHash == target {
		return true
	}
	for _, ih := range h.Interlink {
		if ih == target {
			return true
		}
	}
	return false
}

func (h *Header) String() string {
	return fmt.Sprintf("Header{height: %d, hash: %s}", h.Height, h.Hash().ShortString())
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (h *Header) MarshalZerologObject(e *zerolog.Event) {
	e.Uint32("height", h.Height).
		Str("hash", h.Hash().String()).
		Str("prev_hash", h.PrevHash.String())
}

// Block is a header plus its transaction body. Light clients carry blocks
// without bodies; Body is nil in that case.
type Block struct {
	Header *Header
	Body   []*Transaction
}

func NewBlock(header *Header, body []*Transaction) *Block {
	return &Block{Header: header, Body: body}
}

func (b *Block) Hash() Hash     { return b.Header.Hash() }
func (b *Block) Height() uint32 { return b.Header.Height }

// HasBody reports whether the block carries its transactions.
func (b *Block) HasBody() bool { return b.Body != nil }

// BodyRoot computes the Merkle root over the body's transaction hashes.
func BodyRoot(txs []*Transaction) Hash {
	items := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		items[i] = h.Bytes()
	}
	root, _ := HashFromBytes(merkle.HashFromByteSlices(items))
	return root
}

// Verify checks the header and, when a body is present, that the body matches
// the header's commitment.
func (b *Block) Verify(now time.Time) error {
	if err := b.Header.Verify(now); err != nil {
		return err
	}
	if b.HasBody() && BodyRoot(b.Body) != b.Header.BodyRoot {
		return ErrBadBodyRoot
	}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{height: %d, hash: %s, txs: %d}", b.Height(), b.Hash().ShortString(), len(b.Body))
}
