package consensus

import (
	"time"

	"github.com/cobaltchain/cobalt/p2p"
	"github.com/cobaltchain/cobalt/types"
)

//-----------------------------------------------------------------------------
// Inv ingress

// onInv runs under the onInv gate, so concurrent inv messages are processed
// strictly in arrival order even though block lookups may block.
func (a *Agent) onInv(msg *p2p.InvMessage) {
	// Mark the advertised objects as known and take them out of the relay
	// out-queues: the peer has them already.
	a.mtx.Lock()
	unknown := make([]types.InvVector, 0, len(msg.Vectors))
	for _, v := range msg.Vectors {
		a.waitingInvVectors.Remove(v)
		a.waitingFreeInvVectors.Remove(v)
		a.knownObjects.Add(v)

		_, inFlight := a.objectsInFlight[v]
		_, processing := a.objectsProcessing[v]
		if !inFlight && !processing && a.hooks.shouldRequestData(v) {
			unknown = append(unknown, v)
		}
	}
	a.mtx.Unlock()

	var candidates []types.InvVector
	for _, v := range unknown {
		switch v.Type {
		case types.InvBlock:
			block, err := a.backend.GetBlock(v.Hash, true, false)
			if err != nil {
				a.logger.Error("block lookup failed", "hash", v.Hash, "err", err)
				continue
			}
			if block == nil {
				candidates = append(candidates, v)
				if a.hooks.OnNewBlockAnnounced != nil {
					a.hooks.OnNewBlockAnnounced(v.Hash)
				}
			} else if a.hooks.OnKnownBlockAnnounced != nil {
				a.hooks.OnKnownBlockAnnounced(v.Hash)
			}

		case types.InvTransaction:
			tx, err := a.backend.GetTransaction(v.Hash)
			if err != nil {
				a.logger.Error("transaction lookup failed", "hash", v.Hash, "err", err)
				continue
			}
			if tx == nil {
				candidates = append(candidates, v)
				if a.hooks.OnNewTransactionAnnounced != nil {
					a.hooks.OnNewTransactionAnnounced(v.Hash)
				}
			} else if a.hooks.OnKnownTransactionAnnounced != nil {
				a.hooks.OnKnownTransactionAnnounced(v.Hash)
			}

		default:
			a.logger.Error("ignoring inv vector of unknown type", "vector", v)
		}
	}

	a.logger.Debug("inv processed",
		"peer", a.peer,
		"vectors", len(msg.Vectors),
		"new", len(candidates))

	if len(candidates) == 0 {
		if a.hooks.OnNoUnknownObjects != nil {
			a.hooks.OnNoUnknownObjects()
		}
		return
	}

	// The coordinator decides which agent fetches each object; it calls
	// back into RequestVectors on the one it picks.
	for _, v := range candidates {
		a.invRequests.AskToRequestVector(a, v)
	}
}

//-----------------------------------------------------------------------------
// Request scheduler

// RequestVectors queues the vectors for download and schedules a get-data:
// immediately once enough vectors collected, otherwise after the collection
// window.
func (a *Agent) RequestVectors(vectors ...types.InvVector) {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return
	}
	for _, v := range vectors {
		switch v.Type {
		case types.InvBlock:
			a.blocksToRequest.Enqueue(v)
		case types.InvTransaction:
			a.txsToRequest.Enqueue(v)
		}
	}
	a.timers.ClearTimeout(timerRequestThrottle)
	pending := a.blocksToRequest.Len() + a.txsToRequest.Available()
	a.mtx.Unlock()

	if pending >= a.cfg.RequestThreshold {
		a.requestData()
		return
	}
	a.timers.SetTimeout(timerRequestThrottle, a.requestData, a.cfg.RequestThrottle)
}

// requestData moves the next batch into objectsInFlight and puts it on the
// wire. Only one batch is in flight at a time.
func (a *Agent) requestData() {
	a.mtx.Lock()
	if a.closed || len(a.objectsInFlight) > 0 {
		a.mtx.Unlock()
		return
	}

	vectors := a.blocksToRequest.DequeueMulti(a.cfg.VectorsMaxCount)
	blockCount := len(vectors)
	vectors = append(vectors, a.txsToRequest.DequeueMulti(a.cfg.VectorsMaxCount-blockCount)...)
	if len(vectors) == 0 {
		a.mtx.Unlock()
		return
	}

	for _, v := range vectors {
		a.objectsInFlight[v] = struct{}{}
	}
	a.mtx.Unlock()

	a.doRequestData(vectors, blockCount)
	a.metrics.VectorsRequested.Add(float64(len(vectors)))
	a.timers.SetTimeout(timerGetData, a.noMoreData, a.cfg.RequestTimeout)
}

// doRequestData sends the batch. In header mode the block vectors travel via
// get-header, the transactions via get-data; otherwise everything goes in one
// get-data.
func (a *Agent) doRequestData(vectors []types.InvVector, blockCount int) {
	if a.hooks.willRequestHeaders() {
		blocks, txs := vectors[:blockCount], vectors[blockCount:]
		if len(blocks) > 0 {
			if err := a.channel.Send(&p2p.GetHeaderMessage{Vectors: blocks}); err != nil {
				a.logger.Error("failed to send get-header", "err", err)
			}
		}
		if len(txs) > 0 {
			if err := a.channel.Send(&p2p.GetDataMessage{Vectors: txs}); err != nil {
				a.logger.Error("failed to send get-data", "err", err)
			}
		}
		return
	}

	if err := a.channel.Send(&p2p.GetDataMessage{Vectors: vectors}); err != nil {
		a.logger.Error("failed to send get-data", "err", err)
	}
}

//-----------------------------------------------------------------------------
// Direct requests

// RequestBlock fetches a single block from the peer, blocking until delivery,
// not-found or timeout.
func (a *Agent) RequestBlock(hash types.Hash) (*types.Block, error) {
	res := a.requestObject(types.NewBlockInvVector(hash))
	return res.block, res.err
}

// RequestTransaction fetches a single transaction from the peer, blocking
// until delivery, not-found or timeout.
func (a *Agent) RequestTransaction(hash types.Hash) (*types.Transaction, error) {
	res := a.requestObject(types.NewTransactionInvVector(hash))
	return res.tx, res.err
}

func (a *Agent) requestObject(v types.InvVector) requestResult {
	ch := make(chan requestResult, 1)

	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return requestResult{err: ErrShutdown}
	}

	if waiters, ok := a.pendingRequests[v]; ok {
		// A request for this vector is already on the wire; just wait for
		// its outcome.
		a.pendingRequests[v] = append(waiters, ch)
		a.mtx.Unlock()
		return <-ch
	}

	a.pendingRequests[v] = []chan requestResult{ch}
	if v.Type == types.InvTransaction {
		// Transactions ride the in-flight accounting; blocks requested
		// directly do not.
		a.objectsInFlight[v] = struct{}{}
	}
	a.mtx.Unlock()

	if err := a.channel.Send(&p2p.GetDataMessage{Vectors: []types.InvVector{v}}); err != nil {
		a.logger.Error("failed to send get-data", "vector", v, "err", err)
	}
	a.timers.SetTimeout(requestTimerName(v), func() { a.onRequestTimeout(v) }, a.cfg.RequestTimeout)

	return <-ch
}

// onRequestTimeout rejects every waiter of the vector and advances the batch
// accounting, so a transaction vector does not stay in flight forever.
func (a *Agent) onRequestTimeout(v types.InvVector) {
	a.mtx.Lock()
	waiters, ok := a.pendingRequests[v]
	delete(a.pendingRequests, v)
	a.mtx.Unlock()

	if !ok {
		return
	}
	a.metrics.RequestTimeouts.Add(1)
	a.onObjectReceived(v)
	deliver(waiters, requestResult{err: ErrTimeout})
}

// takePendingWaiters removes and returns the waiters of a vector, if any.
func (a *Agent) takePendingWaiters(v types.InvVector) ([]chan requestResult, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	waiters, ok := a.pendingRequests[v]
	if ok {
		delete(a.pendingRequests, v)
	}
	return waiters, ok
}

//-----------------------------------------------------------------------------
// Response handling

func (a *Agent) onBlock(msg *p2p.BlockMessage) {
	if msg.Block == nil {
		return
	}
	block := msg.Block
	hash := block.Hash()
	v := types.NewBlockInvVector(hash)

	// A directly requested block resolves its waiters and is not treated as
	// a relayed delivery.
	if waiters, ok := a.takePendingWaiters(v); ok {
		a.timers.ClearTimeout(requestTimerName(v))
		deliver(waiters, requestResult{block: block})
		return
	}

	a.mtx.Lock()
	_, inFlight := a.objectsInFlight[v]
	flew := a.objectsThatFlew.Contains(v)
	a.mtx.Unlock()
	if !inFlight && !flew {
		a.logger.Debug("discarding unsolicited block", "peer", a.peer, "hash", hash)
		a.metrics.UnsolicitedObjects.Add(1)
		return
	}

	// Swap in verified mempool instances of the body transactions.
	if a.hooks.MempoolTransaction != nil && block.HasBody() {
		for i, tx := range block.Body {
			if known := a.hooks.MempoolTransaction(tx.Hash()); known != nil {
				block.Body[i] = known
			}
		}
	}

	a.recordPeerHead(block.Header)

	a.onObjectReceived(v)

	a.mtx.Lock()
	a.objectsProcessing[v] = struct{}{}
	a.mtx.Unlock()

	if a.hooks.ProcessBlock != nil {
		if err := a.hooks.ProcessBlock(hash, block); err != nil {
			a.logger.Error("block processing failed", "hash", hash, "err", err)
		}
	}

	a.onObjectProcessed(v)
	a.invRequests.NoteVectorReceived(v)
}

func (a *Agent) onHeader(msg *p2p.HeaderMessage) {
	if msg.Header == nil {
		return
	}
	header := msg.Header
	hash := header.Hash()
	v := types.NewBlockInvVector(hash)

	a.mtx.Lock()
	_, inFlight := a.objectsInFlight[v]
	flew := a.objectsThatFlew.Contains(v)
	a.mtx.Unlock()
	if !inFlight && !flew {
		a.logger.Debug("discarding unsolicited header", "peer", a.peer, "hash", hash)
		a.metrics.UnsolicitedObjects.Add(1)
		return
	}

	a.recordPeerHead(header)

	a.onObjectReceived(v)

	a.mtx.Lock()
	a.objectsProcessing[v] = struct{}{}
	a.mtx.Unlock()

	if a.hooks.ProcessHeader != nil {
		if err := a.hooks.ProcessHeader(hash, header); err != nil {
			a.logger.Error("header processing failed", "hash", hash, "err", err)
		}
	}

	a.onObjectProcessed(v)
	a.invRequests.NoteVectorReceived(v)
}

func (a *Agent) onTx(msg *p2p.TxMessage) {
	if msg.Transaction == nil {
		return
	}
	tx := msg.Transaction
	hash := tx.Hash()
	v := types.NewTransactionInvVector(hash)

	a.mtx.Lock()
	_, inFlight := a.objectsInFlight[v]
	flew := a.objectsThatFlew.Contains(v)
	a.mtx.Unlock()
	if !inFlight && !flew {
		a.logger.Debug("discarding unsolicited transaction", "peer", a.peer, "hash", hash)
		a.metrics.UnsolicitedObjects.Add(1)
		return
	}

	a.invRequests.NoteVectorReceived(v)
	a.onObjectReceived(v)

	a.mtx.Lock()
	a.objectsProcessing[v] = struct{}{}
	matches := a.localSubscription.MatchesTransaction(tx)
	lastChange := a.lastSubscriptionChange
	a.mtx.Unlock()

	if matches && a.hooks.ProcessTransaction != nil {
		if err := a.hooks.ProcessTransaction(hash, tx); err != nil {
			a.logger.Error("transaction processing failed", "hash", hash, "err", err)
		}
	}

	if waiters, ok := a.takePendingWaiters(v); ok {
		a.timers.ClearTimeout(requestTimerName(v))
		deliver(waiters, requestResult{tx: tx})
	} else if !matches && time.Since(lastChange) > a.cfg.SubscriptionChangeGracePeriod {
		// The peer ignored our subscription past the grace window.
		a.logger.Error("peer sent transaction not matching our subscription",
			"peer", a.peer, "hash", hash)
		a.channel.Close(p2p.CloseTransactionNotMatchingSubscription,
			"transaction not matching subscription")
	}

	a.onObjectProcessed(v)
}

func (a *Agent) onNotFound(msg *p2p.NotFoundMessage) {
	a.logger.Debug("peer has no data", "peer", a.peer, "vectors", len(msg.Vectors))

	for _, v := range msg.Vectors {
		waiters, pending := a.takePendingWaiters(v)
		if pending {
			a.timers.ClearTimeout(requestTimerName(v))
		}

		a.mtx.Lock()
		_, inFlight := a.objectsInFlight[v]
		a.mtx.Unlock()
		if inFlight {
			a.invRequests.NoteVectorNotReceived(a, v)
			a.onObjectReceived(v)
		}

		if pending {
			deliver(waiters, requestResult{err: ErrNotFound})
		}
	}
}

//-----------------------------------------------------------------------------
// Batch accounting

// onObjectReceived takes a vector out of the in-flight batch. The batch timer
// is pushed out while the batch keeps settling and the next batch starts once
// it is empty.
func (a *Agent) onObjectReceived(v types.InvVector) {
	a.mtx.Lock()
	if _, ok := a.objectsInFlight[v]; !ok {
		a.mtx.Unlock()
		return
	}
	delete(a.objectsInFlight, v)
	empty := len(a.objectsInFlight) == 0
	a.mtx.Unlock()

	if empty {
		a.noMoreData()
		return
	}
	a.timers.ResetTimeout(timerGetData, a.noMoreData, a.cfg.RequestTimeout)
}

// noMoreData settles the current batch: everything still in flight timed out
// and moves to objectsThatFlew, where late deliveries are accepted for
// accounting but no longer treated as pending.
func (a *Agent) noMoreData() {
	a.timers.ClearTimeout(timerGetData)

	a.mtx.Lock()
	timedOut := make([]types.InvVector, 0, len(a.objectsInFlight))
	for v := range a.objectsInFlight {
		timedOut = append(timedOut, v)
		a.objectsThatFlew.Add(v)
		delete(a.objectsInFlight, v)
	}
	hasMore := a.blocksToRequest.Len() > 0 || a.txsToRequest.Available() > 0
	a.mtx.Unlock()

	if len(timedOut) > 0 {
		a.logger.Debug("get-data batch timed out", "peer", a.peer, "vectors", len(timedOut))
		a.metrics.RequestTimeouts.Add(1)
		for _, v := range timedOut {
			a.invRequests.NoteVectorNotReceived(a, v)
		}
	}

	if hasMore {
		a.requestData()
		return
	}
	if a.hooks.OnAllObjectsReceived != nil {
		a.hooks.OnAllObjectsReceived()
	}
}

// onObjectProcessed retires a vector from the processing set.
func (a *Agent) onObjectProcessed(v types.InvVector) {
	a.mtx.Lock()
	delete(a.objectsProcessing, v)
	empty := len(a.objectsProcessing) == 0
	a.mtx.Unlock()

	if empty && a.hooks.OnAllObjectsProcessed != nil {
		a.hooks.OnAllObjectsProcessed()
	}
}

//-----------------------------------------------------------------------------
// Inventory service

func (a *Agent) onGetData(msg *p2p.GetDataMessage) {
	// The peer asks for these objects, so it knows them.
	a.markKnown(msg.Vectors)

	var unknown []types.InvVector
	for _, v := range msg.Vectors {
		switch v.Type {
		case types.InvBlock:
			raw, err := a.backend.GetRawBlock(v.Hash, false)
			if err != nil {
				a.logger.Error("raw block lookup failed", "hash", v.Hash, "err", err)
			}
			if raw == nil {
				unknown = append(unknown, v)
				continue
			}
			if err := a.channel.Send(&p2p.RawBlockMessage{Data: raw}); err != nil {
				a.logger.Error("failed to send block", "err", err)
			}

		case types.InvTransaction:
			tx, err := a.backend.GetTransaction(v.Hash)
			if err != nil {
				a.logger.Error("transaction lookup failed", "hash", v.Hash, "err", err)
			}
			if tx == nil {
				unknown = append(unknown, v)
				continue
			}
			if err := a.channel.Send(&p2p.TxMessage{Transaction: tx}); err != nil {
				a.logger.Error("failed to send tx", "err", err)
			}

		default:
			unknown = append(unknown, v)
		}
	}

	if len(unknown) > 0 {
		if err := a.channel.Send(&p2p.NotFoundMessage{Vectors: unknown}); err != nil {
			a.logger.Error("failed to send not-found", "err", err)
		}
	}
}

func (a *Agent) onGetHeader(msg *p2p.GetHeaderMessage) {
	a.markKnown(msg.Vectors)

	var unknown []types.InvVector
	for _, v := range msg.Vectors {
		if v.Type != types.InvBlock {
			unknown = append(unknown, v)
			continue
		}
		block, err := a.backend.GetBlock(v.Hash, false, false)
		if err != nil {
			a.logger.Error("block lookup failed", "hash", v.Hash, "err", err)
		}
		if block == nil {
			unknown = append(unknown, v)
			continue
		}
		if err := a.channel.Send(&p2p.HeaderMessage{Header: block.Header}); err != nil {
			a.logger.Error("failed to send header", "err", err)
		}
	}

	if len(unknown) > 0 {
		if err := a.channel.Send(&p2p.NotFoundMessage{Vectors: unknown}); err != nil {
			a.logger.Error("failed to send not-found", "err", err)
		}
	}
}

// markKnown records the vectors as known by the peer and drops them from the
// relay out-queues.
func (a *Agent) markKnown(vectors []types.InvVector) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	for _, v := range vectors {
		a.waitingInvVectors.Remove(v)
		a.waitingFreeInvVectors.Remove(v)
		a.knownObjects.Add(v)
	}
}

//-----------------------------------------------------------------------------
// Mempool service

// onMempool hands the announcement work to a background sender so a large
// mempool cannot stall the dispatch path: other inbound messages keep
// processing while the batches go out. The sender's lifetime is bounded by
// the agent's; shutdown aborts it at the next batch boundary and joins it.
func (a *Agent) onMempool(*p2p.MempoolMessage) {
	if a.hooks.SubscribedMempoolTransactions == nil {
		return
	}
	txs := a.hooks.SubscribedMempoolTransactions()

	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.closed {
		return
	}
	a.sends.Go(func() error {
		a.sendMempoolInv(txs)
		return nil
	})
}

// sendMempoolInv announces the transactions in inv batches, pausing between
// batches so one big mempool cannot monopolize the channel.
func (a *Agent) sendMempoolInv(txs []*types.Transaction) {
	vectors := make([]types.InvVector, 0, a.cfg.VectorsMaxCount)
	for _, tx := range txs {
		vectors = append(vectors, types.NewTransactionInvVector(tx.Hash()))

		if len(vectors) == a.cfg.VectorsMaxCount {
			if err := a.channel.Send(&p2p.InvMessage{Vectors: vectors}); err != nil {
				a.logger.Error("failed to send inv", "err", err)
			}
			vectors = make([]types.InvVector, 0, a.cfg.VectorsMaxCount)

			select {
			case <-time.After(a.cfg.MempoolThrottle):
			case <-a.quitc:
				return
			}
		}
	}

	if len(vectors) > 0 {
		if err := a.channel.Send(&p2p.InvMessage{Vectors: vectors}); err != nil {
			a.logger.Error("failed to send inv", "err", err)
		}
	}
}
