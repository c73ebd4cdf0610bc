package consensus

import (
	"fmt"
	"time"

	"github.com/cobaltchain/cobalt/p2p"
	"github.com/cobaltchain/cobalt/types"
)

// Each proof family keeps a single-slot pending request. The request bodies
// run through the family's synchronizer gate, which is what makes the
// slot-is-empty assertion on entry sound without further locking.

type blockProofRequest struct {
	byHeight      bool
	hashToProve   types.Hash
	heightToProve uint32
	knownHeader   *types.Header
	done          chan blockProofResult
}

type blockProofResult struct {
	block *types.Block
	err   error
}

type transactionsProofRequest struct {
	blockHash types.Hash
	bodyRoot  types.Hash
	addresses map[types.Address]struct{} // by-addresses mode
	hashes    map[types.Hash]struct{}    // by-hashes mode
	done      chan transactionsProofResult
}

type transactionsProofResult struct {
	txs []*types.Transaction
	err error
}

type transactionReceiptsRequest struct {
	hashes map[types.Hash]struct{} // nil in by-address mode
	done   chan transactionReceiptsResult
}

type transactionReceiptsResult struct {
	receipts []*types.TransactionReceipt
	err      error
}

//-----------------------------------------------------------------------------
// Block proofs

// RequestBlockProof asks the peer to prove that the block with the given hash
// is an ancestor of knownBlock. On success it returns the proven block.
func (a *Agent) RequestBlockProof(hashToProve types.Hash, knownBlock *types.Block) (*types.Block, error) {
	return a.requestBlockProof(&blockProofRequest{
		hashToProve: hashToProve,
		knownHeader: knownBlock.Header,
	})
}

// RequestBlockProofAt asks the peer to prove the block at the given height.
// Requires a v2 peer.
func (a *Agent) RequestBlockProofAt(heightToProve uint32, knownBlock *types.Block) (*types.Block, error) {
	if !a.peer.SupportsProofRequests() {
		return nil, ErrUnsupportedPeerVersion
	}
	return a.requestBlockProof(&blockProofRequest{
		byHeight:      true,
		heightToProve: heightToProve,
		knownHeader:   knownBlock.Header,
	})
}

func (a *Agent) requestBlockProof(req *blockProofRequest) (*types.Block, error) {
	var res blockProofResult
	if err := <-a.gates.Push(syncKeyBlockProof, func() error {
		res = a.doRequestBlockProof(req)
		return nil
	}); err != nil {
		return nil, ErrShutdown
	}
	return res.block, res.err
}

func (a *Agent) doRequestBlockProof(req *blockProofRequest) blockProofResult {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return blockProofResult{err: ErrShutdown}
	}
	if a.blockProofRequest != nil {
		// cannot happen behind the gate
		a.mtx.Unlock()
		return blockProofResult{err: fmt.Errorf("block proof request already in progress")}
	}
	req.done = make(chan blockProofResult, 1)
	a.blockProofRequest = req
	a.mtx.Unlock()

	a.metrics.ProofRequests.With("kind", "block").Add(1)

	var msg p2p.Message
	if req.byHeight {
		msg = &p2p.GetBlockProofAtMessage{
			BlockHeightToProve: req.heightToProve,
			KnownBlockHash:     req.knownHeader.Hash(),
		}
	} else {
		msg = &p2p.GetBlockProofMessage{
			BlockHashToProve: req.hashToProve,
			KnownBlockHash:   req.knownHeader.Hash(),
		}
	}
	if err := a.channel.Send(msg); err != nil {
		a.logger.Error("failed to send block proof request", "err", err)
	}
	a.channel.ExpectMessage(p2p.MsgBlockProof, a.onBlockProofTimeout, a.cfg.BlockProofRequestTimeout)

	return <-req.done
}

// onBlockProofTimeout rejects the pending request locally; an unresponsive
// proof peer is not a protocol violation.
func (a *Agent) onBlockProofTimeout() {
	a.mtx.Lock()
	req := a.blockProofRequest
	a.blockProofRequest = nil
	a.mtx.Unlock()

	if req == nil {
		return
	}
	req.done <- blockProofResult{err: ErrTimeout}
}

func (a *Agent) onBlockProof(msg *p2p.BlockProofMessage) {
	a.mtx.Lock()
	req := a.blockProofRequest
	a.blockProofRequest = nil
	a.mtx.Unlock()

	if req == nil {
		a.logger.Debug("discarding unsolicited block proof", "peer", a.peer)
		return
	}
	req.done <- a.validateBlockProof(req, msg)
}

func (a *Agent) validateBlockProof(req *blockProofRequest, msg *p2p.BlockProofMessage) blockProofResult {
	if msg.Proof.IsEmpty() {
		return blockProofResult{err: ErrRejected}
	}
	proof := msg.Proof

	// The tail must be the block we asked to prove; dispatch on request mode
	// rather than comparing both fields at once.
	if req.byHeight {
		if proof.Tail().Height() != req.heightToProve {
			a.metrics.ProofFailures.With("kind", "block").Add(1)
			return blockProofResult{err: fmt.Errorf("%w: invalid tail block", ErrInvalidProof)}
		}
	} else if proof.Tail().Hash() != req.hashToProve {
		a.metrics.ProofFailures.With("kind", "block").Add(1)
		return blockProofResult{err: fmt.Errorf("%w: invalid tail block", ErrInvalidProof)}
	}

	// Our anchor block must directly reference the proof head.
	if !req.knownHeader.IsInterlinkSuccessorOf(proof.Head().Header) {
		a.metrics.ProofFailures.With("kind", "block").Add(1)
		return blockProofResult{err: fmt.Errorf("%w: invalid head block", ErrInvalidProof)}
	}

	// A structurally broken or invalid proof is a protocol violation.
	if err := proof.Verify(); err != nil {
		a.metrics.ProofFailures.With("kind", "block").Add(1)
		a.channel.Close(p2p.CloseInvalidBlockProof, err.Error())
		return blockProofResult{err: fmt.Errorf("%w: %s", ErrInvalidProof, err)}
	}
	if err := proof.VerifyBlocks(time.Now()); err != nil {
		a.metrics.ProofFailures.With("kind", "block").Add(1)
		a.channel.Close(p2p.CloseInvalidBlockProof, err.Error())
		return blockProofResult{err: fmt.Errorf("%w: %s", ErrInvalidProof, err)}
	}

	return blockProofResult{block: proof.Tail()}
}

//-----------------------------------------------------------------------------
// Transactions proofs

// RequestTransactionsProofByAddresses asks the peer for the transactions in
// block touching any of the addresses, proven against the block's body root.
func (a *Agent) RequestTransactionsProofByAddresses(addresses []types.Address, block *types.Block) ([]*types.Transaction, error) {
	set := make(map[types.Address]struct{}, len(addresses))
	for _, addr := range addresses {
		set[addr] = struct{}{}
	}
	return a.requestTransactionsProof(&transactionsProofRequest{
		blockHash: block.Hash(),
		bodyRoot:  block.Header.BodyRoot,
		addresses: set,
	}, &p2p.GetTransactionsProofByAddressesMessage{
		BlockHash: block.Hash(),
		Addresses: addresses,
	})
}

// RequestTransactionsProofByHashes asks the peer for the listed transactions
// in block, proven against the block's body root. Requires a v2 peer.
func (a *Agent) RequestTransactionsProofByHashes(hashes []types.Hash, block *types.Block) ([]*types.Transaction, error) {
	if !a.peer.SupportsProofRequests() {
		return nil, ErrUnsupportedPeerVersion
	}
	set := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return a.requestTransactionsProof(&transactionsProofRequest{
		blockHash: block.Hash(),
		bodyRoot:  block.Header.BodyRoot,
		hashes:    set,
	}, &p2p.GetTransactionsProofByHashesMessage{
		BlockHash: block.Hash(),
		Hashes:    hashes,
	})
}

func (a *Agent) requestTransactionsProof(req *transactionsProofRequest, wire p2p.Message) ([]*types.Transaction, error) {
	var res transactionsProofResult
	if err := <-a.gates.Push(syncKeyTransactionsProof, func() error {
		res = a.doRequestTransactionsProof(req, wire)
		return nil
	}); err != nil {
		return nil, ErrShutdown
	}
	return res.txs, res.err
}

func (a *Agent) doRequestTransactionsProof(req *transactionsProofRequest, wire p2p.Message) transactionsProofResult {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return transactionsProofResult{err: ErrShutdown}
	}
	if a.transactionsProofRequest != nil {
		// cannot happen behind the gate
		a.mtx.Unlock()
		return transactionsProofResult{err: fmt.Errorf("transactions proof request already in progress")}
	}
	req.done = make(chan transactionsProofResult, 1)
	a.transactionsProofRequest = req
	a.mtx.Unlock()

	a.metrics.ProofRequests.With("kind", "transactions").Add(1)

	if err := a.channel.Send(wire); err != nil {
		a.logger.Error("failed to send transactions proof request", "err", err)
	}
	a.channel.ExpectMessage(p2p.MsgTransactionsProof, a.onTransactionsProofTimeout,
		a.cfg.TransactionsProofRequestTimeout)

	return <-req.done
}

func (a *Agent) onTransactionsProofTimeout() {
	a.mtx.Lock()
	req := a.transactionsProofRequest
	a.transactionsProofRequest = nil
	a.mtx.Unlock()

	if req == nil {
		return
	}
	a.channel.Close(p2p.CloseGetTransactionsProofTimeout, "get-transactions-proof timed out")
	req.done <- transactionsProofResult{err: ErrTimeout}
}

func (a *Agent) onTransactionsProof(msg *p2p.TransactionsProofMessage) {
	a.mtx.Lock()
	req := a.transactionsProofRequest
	a.transactionsProofRequest = nil
	a.mtx.Unlock()

	if req == nil {
		a.logger.Debug("discarding unsolicited transactions proof", "peer", a.peer)
		return
	}
	req.done <- a.validateTransactionsProof(req, msg)
}

func (a *Agent) validateTransactionsProof(req *transactionsProofRequest, msg *p2p.TransactionsProofMessage) transactionsProofResult {
	if msg.Proof == nil {
		return transactionsProofResult{err: ErrRejected}
	}
	if msg.BlockHash != req.blockHash {
		a.metrics.ProofFailures.With("kind", "transactions").Add(1)
		return transactionsProofResult{err: fmt.Errorf("%w: proof for wrong block", ErrInvalidProof)}
	}

	root, err := msg.Proof.Root()
	if err != nil || root != req.bodyRoot {
		a.metrics.ProofFailures.With("kind", "transactions").Add(1)
		a.channel.Close(p2p.CloseInvalidTransactionProof, "transactions proof root mismatch")
		return transactionsProofResult{err: fmt.Errorf("%w: root mismatch", ErrInvalidProof)}
	}

	// Every proven transaction must be one we actually asked about;
	// otherwise the peer is padding the proof.
	for _, tx := range msg.Proof.Transactions {
		if !req.matchesTransaction(tx) {
			a.metrics.ProofFailures.With("kind", "transactions").Add(1)
			a.channel.Close(p2p.CloseInvalidTransactionProof, "proof contains unrequested transaction")
			return transactionsProofResult{err: fmt.Errorf("%w: unrequested transaction", ErrInvalidProof)}
		}
	}

	return transactionsProofResult{txs: msg.Proof.Transactions}
}

func (req *transactionsProofRequest) matchesTransaction(tx *types.Transaction) bool {
	if req.hashes != nil {
		_, ok := req.hashes[tx.Hash()]
		return ok
	}
	if _, ok := req.addresses[tx.Sender]; ok {
		return true
	}
	_, ok := req.addresses[tx.Recipient]
	return ok
}

//-----------------------------------------------------------------------------
// Transaction receipts

// RequestTransactionReceiptsByAddress asks the peer for inclusion receipts of
// all transactions touching the address. Receipts carry no address, so the
// response cannot be cross-checked locally; callers verify via a subsequent
// transactions proof.
func (a *Agent) RequestTransactionReceiptsByAddress(address types.Address) ([]*types.TransactionReceipt, error) {
	return a.requestTransactionReceipts(&transactionReceiptsRequest{},
		&p2p.GetTransactionReceiptsByAddressMessage{Address: address})
}

// RequestTransactionReceiptsByHashes asks the peer for inclusion receipts of
// the listed transactions. Requires a v2 peer.
func (a *Agent) RequestTransactionReceiptsByHashes(hashes []types.Hash) ([]*types.TransactionReceipt, error) {
	if !a.peer.SupportsProofRequests() {
		return nil, ErrUnsupportedPeerVersion
	}
	set := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return a.requestTransactionReceipts(&transactionReceiptsRequest{hashes: set},
		&p2p.GetTransactionReceiptsByHashesMessage{Hashes: hashes})
}

func (a *Agent) requestTransactionReceipts(req *transactionReceiptsRequest, wire p2p.Message) ([]*types.TransactionReceipt, error) {
	var res transactionReceiptsResult
	if err := <-a.gates.Push(syncKeyTransactionReceipts, func() error {
		res = a.doRequestTransactionReceipts(req, wire)
		return nil
	}); err != nil {
		return nil, ErrShutdown
	}
	return res.receipts, res.err
}

func (a *Agent) doRequestTransactionReceipts(req *transactionReceiptsRequest, wire p2p.Message) transactionReceiptsResult {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return transactionReceiptsResult{err: ErrShutdown}
	}
	if a.transactionReceiptsRequest != nil {
		// cannot happen behind the gate
		a.mtx.Unlock()
		return transactionReceiptsResult{err: fmt.Errorf("transaction receipts request already in progress")}
	}
	req.done = make(chan transactionReceiptsResult, 1)
	a.transactionReceiptsRequest = req
	a.mtx.Unlock()

	a.metrics.ProofRequests.With("kind", "receipts").Add(1)

	if err := a.channel.Send(wire); err != nil {
		a.logger.Error("failed to send transaction receipts request", "err", err)
	}
	a.channel.ExpectMessage(p2p.MsgTransactionReceipts, a.onTransactionReceiptsTimeout,
		a.cfg.TransactionReceiptsRequestTimeout)

	return <-req.done
}

func (a *Agent) onTransactionReceiptsTimeout() {
	a.mtx.Lock()
	req := a.transactionReceiptsRequest
	a.transactionReceiptsRequest = nil
	a.mtx.Unlock()

	if req == nil {
		return
	}
	a.channel.Close(p2p.CloseGetTransactionReceiptsTimeout, "get-transaction-receipts timed out")
	req.done <- transactionReceiptsResult{err: ErrTimeout}
}

func (a *Agent) onTransactionReceipts(msg *p2p.TransactionReceiptsMessage) {
	a.mtx.Lock()
	req := a.transactionReceiptsRequest
	a.transactionReceiptsRequest = nil
	a.mtx.Unlock()

	if req == nil {
		a.logger.Debug("discarding unsolicited transaction receipts", "peer", a.peer)
		return
	}

	if msg.Receipts == nil {
		req.done <- transactionReceiptsResult{err: ErrRejected}
		return
	}

	// In by-hashes mode the peer must only return receipts we asked for.
	if req.hashes != nil {
		for _, r := range msg.Receipts {
			if _, ok := req.hashes[r.TransactionHash]; !ok {
				a.metrics.ProofFailures.With("kind", "receipts").Add(1)
				a.channel.Close(p2p.CloseInvalidTransactionProof, "receipt for unrequested transaction")
				req.done <- transactionReceiptsResult{err: fmt.Errorf("%w: unrequested receipt", ErrInvalidProof)}
				return
			}
		}
	}

	req.done <- transactionReceiptsResult{receipts: msg.Receipts}
}
