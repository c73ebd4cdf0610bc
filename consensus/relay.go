package consensus

import (
	"github.com/cobaltchain/cobalt/p2p"
	"github.com/cobaltchain/cobalt/types"
)

//-----------------------------------------------------------------------------
// Relay

// RelayBlock announces a new block to the peer. The block travels in one inv
// frame together with a drain of the paid relay queue. Returns false when the
// peer is not synced, not subscribed, or already knows the block.
func (a *Agent) RelayBlock(block *types.Block) bool {
	v := types.NewBlockInvVector(block.Hash())

	a.mtx.Lock()
	if a.closed || !a.synced || !a.remoteSubscription.MatchesBlock(block) || a.knownObjects.Contains(v) {
		a.mtx.Unlock()
		return false
	}
	vectors := append([]types.InvVector{v},
		a.waitingInvVectors.DequeueMulti(a.cfg.VectorsMaxCount-1)...)
	a.mtx.Unlock()

	if err := a.channel.Send(&p2p.InvMessage{Vectors: vectors}); err != nil {
		a.logger.Error("failed to send inv", "err", err)
	}

	// Assume the peer knows the block shortly after the announcement.
	a.timers.SetTimeout(knowsObjectTimerName(v), func() {
		a.mtx.Lock()
		a.knownObjects.Add(v)
		a.mtx.Unlock()
	}, a.cfg.KnowsObjectAfterInvDelay)

	return true
}

// RelayTransaction queues a transaction announcement for the peer.
// Transactions paying less than the relay fee floor go through the free
// queue's tighter budget. Returns false when the peer is not subscribed or
// already knows the transaction.
func (a *Agent) RelayTransaction(tx *types.Transaction) bool {
	v := types.NewTransactionInvVector(tx.Hash())

	a.mtx.Lock()
	if a.closed || !a.remoteSubscription.MatchesTransaction(tx) || a.knownObjects.Contains(v) {
		a.mtx.Unlock()
		return false
	}

	free := tx.FeePerByte() < a.cfg.TransactionRelayFeeMin
	if free {
		a.waitingFreeInvVectors.EnqueueWithSize(v, tx.SerializedSize())
	} else {
		a.waitingInvVectors.Enqueue(v)
	}
	a.mtx.Unlock()

	class := "paid"
	if free {
		class = "free"
	}
	a.metrics.RelayedTransactions.With("class", class).Add(1)

	// Assume the peer knows the transaction KnowsObjectAfterInvDelay after it
	// was queued.
	a.timers.SetTimeout(knowsObjectTimerName(v), func() {
		a.mtx.Lock()
		a.knownObjects.Add(v)
		a.mtx.Unlock()
	}, a.cfg.KnowsObjectAfterInvDelay)

	return true
}

// RemoveTransaction withdraws a queued announcement, e.g. when the
// transaction left the local mempool.
func (a *Agent) RemoveTransaction(tx *types.Transaction) {
	v := types.NewTransactionInvVector(tx.Hash())

	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.waitingInvVectors.Remove(v)
	a.waitingFreeInvVectors.Remove(v)
}

// flushWaitingInvVectors periodically announces the queued paid transactions.
func (a *Agent) flushWaitingInvVectors() {
	a.mtx.Lock()
	vectors := a.waitingInvVectors.DequeueMulti(a.cfg.VectorsMaxCount)
	a.mtx.Unlock()

	if len(vectors) == 0 {
		return
	}
	if err := a.channel.Send(&p2p.InvMessage{Vectors: vectors}); err != nil {
		a.logger.Error("failed to send inv", "err", err)
	}
	a.logger.Debug("relayed waiting vectors", "peer", a.peer, "count", len(vectors))
}

// flushWaitingFreeInvVectors announces queued free transactions, bounded per
// interval by both the token bucket and a serialized-size budget.
func (a *Agent) flushWaitingFreeInvVectors() {
	a.mtx.Lock()
	var vectors []types.InvVector
	size := 0
	for len(vectors) < a.cfg.VectorsMaxCount &&
		a.waitingFreeInvVectors.IsAvailable() &&
		size < a.cfg.FreeTransactionSizePerInterval {
		entry, ok := a.waitingFreeInvVectors.DequeueEntry()
		if !ok {
			break
		}
		vectors = append(vectors, entry.InvVector)
		size += entry.SerializedSize
	}
	a.mtx.Unlock()

	if len(vectors) == 0 {
		return
	}
	if err := a.channel.Send(&p2p.InvMessage{Vectors: vectors}); err != nil {
		a.logger.Error("failed to send inv", "err", err)
	}
	a.logger.Debug("relayed free waiting vectors", "peer", a.peer, "count", len(vectors), "bytes", size)
}
