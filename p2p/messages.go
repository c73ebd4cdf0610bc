package p2p

import (
	"fmt"

	"github.com/cobaltchain/cobalt/types"
)

// MessageType identifies a wire message. The transport maps these onto its
// own framing; the agent only dispatches on them.
type MessageType uint8

const (
	MsgInv MessageType = iota + 1
	MsgGetData
	MsgGetHeader
	MsgNotFound
	MsgBlock
	MsgHeader
	MsgTx
	MsgMempool
	MsgSubscribe
	MsgGetHead
	MsgHead
	MsgGetBlockProof
	MsgGetBlockProofAt
	MsgBlockProof
	MsgGetTransactionsProofByAddresses
	MsgGetTransactionsProofByHashes
	MsgTransactionsProof
	MsgGetTransactionReceiptsByAddress
	MsgGetTransactionReceiptsByHashes
	MsgTransactionReceipts
)

func (t MessageType) String() string {
	switch t {
	case MsgInv:
		return "inv"
	case MsgGetData:
		return "get-data"
	case MsgGetHeader:
		return "get-header"
	case MsgNotFound:
		return "not-found"
	case MsgBlock:
		return "block"
	case MsgHeader:
		return "header"
	case MsgTx:
		return "tx"
	case MsgMempool:
		return "mempool"
	case MsgSubscribe:
		return "subscribe"
	case MsgGetHead:
		return "get-head"
	case MsgHead:
		return "head"
	case MsgGetBlockProof:
		return "get-block-proof"
	case MsgGetBlockProofAt:
		return "get-block-proof-at"
	case MsgBlockProof:
		return "block-proof"
	case MsgGetTransactionsProofByAddresses:
		return "get-transactions-proof-by-addresses"
	case MsgGetTransactionsProofByHashes:
		return "get-transactions-proof-by-hashes"
	case MsgTransactionsProof:
		return "transactions-proof"
	case MsgGetTransactionReceiptsByAddress:
		return "get-transaction-receipts-by-address"
	case MsgGetTransactionReceiptsByHashes:
		return "get-transaction-receipts-by-hashes"
	case MsgTransactionReceipts:
		return "transaction-receipts"
	default:
		return fmt.Sprintf("message-%d", uint8(t))
	}
}

// Message is implemented by every wire message.
type Message interface {
	Type() MessageType
}

// InvMessage announces object vectors to the peer.
type InvMessage struct {
	Vectors []types.InvVector
}

func (*InvMessage) Type() MessageType { return MsgInv }

// GetDataMessage requests full objects for the given vectors.
type GetDataMessage struct {
	Vectors []types.InvVector
}

func (*GetDataMessage) Type() MessageType { return MsgGetData }

// GetHeaderMessage requests headers only for the given block vectors.
type GetHeaderMessage struct {
	Vectors []types.InvVector
}

func (*GetHeaderMessage) Type() MessageType { return MsgGetHeader }

// NotFoundMessage declares that the sender does not have the given objects.
type NotFoundMessage struct {
	Vectors []types.InvVector
}

func (*NotFoundMessage) Type() MessageType { return MsgNotFound }

// BlockMessage delivers a full block.
type BlockMessage struct {
	Block *types.Block
}

func (*BlockMessage) Type() MessageType { return MsgBlock }

// RawBlockMessage delivers a block in its stored serialized form. It shares
// the block wire type; the transport encodes both identically.
type RawBlockMessage struct {
	Data []byte
}

func (*RawBlockMessage) Type() MessageType { return MsgBlock }

// HeaderMessage delivers a block header.
type HeaderMessage struct {
	Header *types.Header
}

func (*HeaderMessage) Type() MessageType { return MsgHeader }

// TxMessage delivers a transaction.
type TxMessage struct {
	Transaction *types.Transaction
}

func (*TxMessage) Type() MessageType { return MsgTx }

// MempoolMessage asks the receiver to announce its mempool contents.
type MempoolMessage struct{}

func (*MempoolMessage) Type() MessageType { return MsgMempool }

// SubscribeMessage declares which announcements the sender wants to receive.
type SubscribeMessage struct {
	Subscription types.Subscription
}

func (*SubscribeMessage) Type() MessageType { return MsgSubscribe }

// GetHeadMessage requests the receiver's current head header.
type GetHeadMessage struct{}

func (*GetHeadMessage) Type() MessageType { return MsgGetHead }

// HeadMessage delivers the sender's current head header.
type HeadMessage struct {
	Header *types.Header
}

func (*HeadMessage) Type() MessageType { return MsgHead }

// GetBlockProofMessage requests an interlink proof that BlockHashToProve is
// an ancestor of KnownBlockHash.
type GetBlockProofMessage struct {
	BlockHashToProve types.Hash
	KnownBlockHash   types.Hash
}

func (*GetBlockProofMessage) Type() MessageType { return MsgGetBlockProof }

// GetBlockProofAtMessage requests an interlink proof for the block at the
// given height. Requires protocol version 2.
type GetBlockProofAtMessage struct {
	BlockHeightToProve uint32
	KnownBlockHash     types.Hash
}

func (*GetBlockProofAtMessage) Type() MessageType { return MsgGetBlockProofAt }

// BlockProofMessage answers a block proof request. A nil proof means the
// request could not be served.
type BlockProofMessage struct {
	Proof *types.BlockProof
}

func (*BlockProofMessage) Type() MessageType { return MsgBlockProof }

// GetTransactionsProofByAddressesMessage requests an inclusion proof for the
// transactions in BlockHash touching any of the addresses.
type GetTransactionsProofByAddressesMessage struct {
	BlockHash types.Hash
	Addresses []types.Address
}

func (*GetTransactionsProofByAddressesMessage) Type() MessageType {
	return MsgGetTransactionsProofByAddresses
}

// GetTransactionsProofByHashesMessage requests an inclusion proof for the
// listed transactions in BlockHash. Requires protocol version 2.
type GetTransactionsProofByHashesMessage struct {
	BlockHash types.Hash
	Hashes    []types.Hash
}

func (*GetTransactionsProofByHashesMessage) Type() MessageType {
	return MsgGetTransactionsProofByHashes
}

// TransactionsProofMessage answers a transactions proof request. A nil proof
// means the request could not be served.
type TransactionsProofMessage struct {
	BlockHash types.Hash
	Proof     *types.TransactionsProof
}

func (*TransactionsProofMessage) Type() MessageType { return MsgTransactionsProof }

// GetTransactionReceiptsByAddressMessage requests inclusion receipts for all
// transactions touching the address.
type GetTransactionReceiptsByAddressMessage struct {
	Address types.Address
}

func (*GetTransactionReceiptsByAddressMessage) Type() MessageType {
	return MsgGetTransactionReceiptsByAddress
}

// GetTransactionReceiptsByHashesMessage requests inclusion receipts for the
// listed transactions. Requires protocol version 2.
type GetTransactionReceiptsByHashesMessage struct {
	Hashes []types.Hash
}

func (*GetTransactionReceiptsByHashesMessage) Type() MessageType {
	return MsgGetTransactionReceiptsByHashes
}

// TransactionReceiptsMessage answers a receipts request. Nil receipts means
// the request could not be served.
type TransactionReceiptsMessage struct {
	Receipts []*types.TransactionReceipt
}

func (*TransactionReceiptsMessage) Type() MessageType { return MsgTransactionReceipts }
