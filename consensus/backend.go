package consensus

import (
	"github.com/cobaltchain/cobalt/types"
)

// Backend is the agent's window into the local chain state. The blockchain
// store and mempool live above the agent; only lookups cross this interface.
// Lookup misses return (nil, nil).
type Backend interface {
	// GetBlock returns the block with the given hash. includeForks also
	// searches non-main-chain blocks; includeBody asks for the transaction
	// body.
	GetBlock(hash types.Hash, includeForks, includeBody bool) (*types.Block, error)

	// GetRawBlock returns the block in its stored serialized form.
	GetRawBlock(hash types.Hash, includeForks bool) ([]byte, error)

	// GetTransaction returns the mempool transaction with the given hash.
	GetTransaction(hash types.Hash) (*types.Transaction, error)

	// GetHead returns the current head header of the local chain.
	GetHead() *types.Header
}

// Hooks are the optional policy and processing callbacks a node type (full,
// light, nano) plugs into the agent. Nil fields select the default behavior.
type Hooks struct {
	// ShouldRequestData decides whether an announced vector is of interest
	// at all. Default: all vectors are.
	ShouldRequestData func(vector types.InvVector) bool

	// WillRequestHeaders selects header mode: block vectors are fetched via
	// get-header instead of get-data. Default: off.
	WillRequestHeaders func() bool

	// SubscribedMempoolTransactions returns the local mempool transactions
	// matching the peer's subscription, for serving a mempool message.
	// Default: the mempool message is ignored.
	SubscribedMempoolTransactions func() []*types.Transaction

	// MempoolTransaction looks up a verified mempool instance of a
	// transaction for block body hydration. Default: no hydration.
	MempoolTransaction func(hash types.Hash) *types.Transaction

	// Processing callbacks for delivered objects.
	ProcessBlock       func(hash types.Hash, block *types.Block) error
	ProcessHeader      func(hash types.Hash, header *types.Header) error
	ProcessTransaction func(hash types.Hash, tx *types.Transaction) error

	// Announcement notifications from inv ingress.
	OnNewBlockAnnounced         func(hash types.Hash)
	OnKnownBlockAnnounced       func(hash types.Hash)
	OnNewTransactionAnnounced   func(hash types.Hash)
	OnKnownTransactionAnnounced func(hash types.Hash)

	// OnNoUnknownObjects fires when an inv carried nothing new.
	OnNoUnknownObjects func()
	// OnAllObjectsReceived fires when an in-flight batch fully settles and
	// no further requests are queued.
	OnAllObjectsReceived func()
	// OnAllObjectsProcessed fires when the last delivered object finished
	// processing.
	OnAllObjectsProcessed func()
}

func (h Hooks) shouldRequestData(v types.InvVector) bool {
	if h.ShouldRequestData == nil {
		return true
	}
	return h.ShouldRequestData(v)
}

func (h Hooks) willRequestHeaders() bool {
	return h.WillRequestHeaders != nil && h.WillRequestHeaders()
}
