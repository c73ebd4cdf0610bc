package types

import "fmt"

// InvType tags the kind of object an InvVector refers to.
type InvType uint32

const (
	InvBlock       InvType = 1
	InvTransaction InvType = 2
)

func (t InvType) String() string {
	switch t {
	case InvBlock:
		return "block"
	case InvTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("invtype-%d", uint32(t))
	}
}

// InvVector is the typed object identifier exchanged in inv, get-data and
// not-found messages. It is the universal key across the agent's sets, queues
// and maps; identity covers both fields.
type InvVector struct {
	Type InvType
	Hash Hash
}

func NewBlockInvVector(hash Hash) InvVector {
	return InvVector{Type: InvBlock, Hash: hash}
}

func NewTransactionInvVector(hash Hash) InvVector {
	return InvVector{Type: InvTransaction, Hash: hash}
}

func (v InvVector) String() string {
	return fmt.Sprintf("%s:%s", v.Type, v.Hash.ShortString())
}

// FreeTransactionVector pairs an InvVector with the serialized size of its
// transaction so the free relay queue can enforce a byte budget. Removals by
// key operate on the embedded vector, making it interchangeable with a plain
// InvVector.
type FreeTransactionVector struct {
	InvVector
	SerializedSize int
}

func NewFreeTransactionVector(v InvVector, serializedSize int) FreeTransactionVector {
	return FreeTransactionVector{InvVector: v, SerializedSize: serializedSize}
}
