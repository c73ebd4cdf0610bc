package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
)

// Transaction is a value transfer between two addresses. Fields are fixed at
// construction; the hash is computed lazily and cached.
type Transaction struct {
	Sender    Address
	Recipient Address
	Value     uint64
	Fee       uint64
	Data      []byte

	hashOnce sync.Once
	hash     Hash
}

func NewTransaction(sender, recipient Address, value, fee uint64, data []byte) *Transaction {
	return &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Value:     value,
		Fee:       fee,
		Data:      data,
	}
}

// Hash returns the transaction digest over its serialized form.
func (tx *Transaction) Hash() Hash {
	tx.hashOnce.Do(func() {
		tx.hash = HashBytes(tx.serialize())
	})
	return tx.hash
}

func (tx *Transaction) serialize() []byte {
	buf := new(bytes.Buffer)
	buf.Write(tx.Sender[:])
	buf.Write(tx.Recipient[:])
	binary.Write(buf, binary.BigEndian, tx.Value) //nolint:errcheck
	binary.Write(buf, binary.BigEndian, tx.Fee)   //nolint:errcheck
	buf.Write(tx.Data)
	return buf.Bytes()
}

// SerializedSize returns the byte size of the serialized transaction.
func (tx *Transaction) SerializedSize() int {
	return 2*AddressSize + 16 + len(tx.Data)
}

// FeePerByte returns the fee density used for relay classification and
// min-fee subscriptions.
func (tx *Transaction) FeePerByte() float64 {
	return float64(tx.Fee) / float64(tx.SerializedSize())
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction{hash: %s, value: %d, fee: %d}", tx.Hash().ShortString(), tx.Value, tx.Fee)
}
