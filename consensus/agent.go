package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cobaltchain/cobalt/libs/log"
	"github.com/cobaltchain/cobalt/libs/service"
	csync "github.com/cobaltchain/cobalt/libs/sync"
	"github.com/cobaltchain/cobalt/libs/timer"
	"github.com/cobaltchain/cobalt/p2p"
	"github.com/cobaltchain/cobalt/types"
)

// Timer and synchronizer key names.
const (
	timerGetData         = "getData"
	timerGetHead         = "getHead"
	timerRequestThrottle = "requestThrottle"

	intervalRelay     = "invVectors"
	intervalFreeRelay = "freeInvVectors"

	syncKeyOnInv               = "onInv"
	syncKeyBlockProof          = "getBlockProof"
	syncKeyTransactionsProof   = "getTransactionsProof"
	syncKeyTransactionReceipts = "getTransactionReceipts"
)

func requestTimerName(v types.InvVector) string {
	return fmt.Sprintf("request-%d-%s", v.Type, v.Hash)
}

func knowsObjectTimerName(v types.InvVector) string {
	return fmt.Sprintf("knowsObject-%d-%s", v.Type, v.Hash)
}

// Agent mediates the consensus protocol on a single peer link: it exchanges
// inventory announcements, requests and delivers blocks and transactions,
// relays new objects respecting the peer's subscription, and issues verified
// proof requests. One Agent is bound to one remote peer for the lifetime of
// the connection.
//
// The transport delivers inbound messages through Receive; the node layer
// above calls the request and relay methods. All bookkeeping is guarded by
// one mutex, released around Backend and Hook calls.
type Agent struct {
	*service.Lifecycle
	logger log.Logger

	cfg         *Config
	peer        *p2p.Peer
	channel     p2p.Channel
	backend     Backend
	hooks       Hooks
	invRequests InvRequestManager
	metrics     *Metrics

	timers *timer.Registry
	gates  *csync.Synchronizer

	// Background send loops (mempool announcements); quitc aborts them on
	// shutdown, sends.Wait bounds their lifetime to the agent's.
	sends errgroup.Group
	quitc chan struct{}

	mtx    sync.Mutex
	closed bool

	// True after the node type signals that initial sync with this peer is
	// complete. Gates block relay.
	synced bool

	// Objects the peer knows: announced by it, requested by it, or
	// announced by us (after a delay).
	knownObjects *KnownSet

	// Announced objects waiting to be requested.
	blocksToRequest *InvQueue
	txsToRequest    *ThrottledInvQueue

	// Current get-data batch, and vectors whose batch timed out.
	objectsInFlight map[types.InvVector]struct{}
	objectsThatFlew *KnownSet

	// Objects handed to processing callbacks and not yet done.
	objectsProcessing map[types.InvVector]struct{}

	// Subscription state, ours and theirs.
	remoteSubscription     types.Subscription
	localSubscription      types.Subscription
	targetSubscription     types.Subscription
	lastSubscriptionChange time.Time

	// Relay out-queues.
	waitingInvVectors     *ThrottledInvQueue
	waitingFreeInvVectors *ThrottledInvQueue

	// Waiters of direct block/transaction requests, per vector.
	pendingRequests map[types.InvVector][]chan requestResult

	// Single-slot pending proof requests, one per kind.
	blockProofRequest          *blockProofRequest
	transactionsProofRequest   *transactionsProofRequest
	transactionReceiptsRequest *transactionReceiptsRequest
}

var _ Requester = (*Agent)(nil)

type requestResult struct {
	block *types.Block
	tx    *types.Transaction
	err   error
}

// Option configures an Agent.
type Option func(*Agent)

// WithHooks installs the node type's policy and processing callbacks.
func WithHooks(hooks Hooks) Option {
	return func(a *Agent) { a.hooks = hooks }
}

// WithMetrics installs a metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// NewAgent wires an agent to one remote peer.
func NewAgent(
	logger log.Logger,
	cfg *Config,
	peer *p2p.Peer,
	channel p2p.Channel,
	backend Backend,
	invRequests InvRequestManager,
	options ...Option,
) *Agent {
	a := &Agent{
		logger:      logger,
		cfg:         cfg,
		peer:        peer,
		channel:     channel,
		backend:     backend,
		invRequests: invRequests,
		metrics:     NopMetrics(),

		timers: timer.NewRegistry(),
		gates:  csync.NewSynchronizer(),
		quitc:  make(chan struct{}),

		knownObjects:    NewKnownSet(cfg.KnownObjectsCountMax),
		blocksToRequest: NewInvQueue(cfg.RequestBlocksWaitingMax),
		txsToRequest: NewThrottledInvQueue(
			cfg.TransactionsAtOnce, cfg.TransactionsPerSecond,
			time.Second, cfg.RequestTransactionsWaitingMax),

		objectsInFlight:   make(map[types.InvVector]struct{}),
		objectsThatFlew:   NewKnownSet(cfg.KnownObjectsCountMax),
		objectsProcessing: make(map[types.InvVector]struct{}),

		remoteSubscription: types.SubscribeNone(),
		localSubscription:  types.SubscribeNone(),
		targetSubscription: types.SubscribeNone(),

		waitingInvVectors: NewThrottledInvQueue(
			cfg.TransactionsAtOnce, cfg.TransactionsPerSecond,
			time.Second, cfg.RequestTransactionsWaitingMax),
		waitingFreeInvVectors: NewThrottledInvQueue(
			cfg.FreeTransactionsAtOnce, cfg.FreeTransactionsPerSecond,
			time.Second, cfg.RequestTransactionsWaitingMax),

		pendingRequests: make(map[types.InvVector][]chan requestResult),
	}
	a.lastSubscriptionChange = time.Now()

	for _, opt := range options {
		opt(a)
	}

	a.Lifecycle = service.NewLifecycle(logger, "ConsensusAgent", a.onStart, a.onStop)
	return a
}

// onStart asks for the peer's head and arms the relay flush intervals.
func (a *Agent) onStart(context.Context) error {
	a.requestHead()

	a.timers.SetInterval(intervalRelay, a.flushWaitingInvVectors, a.cfg.TransactionRelayInterval)
	a.timers.SetInterval(intervalFreeRelay, a.flushWaitingFreeInvVectors, a.cfg.FreeTransactionRelayInterval)
	return nil
}

func (a *Agent) onStop() {
	a.shutdown()
}

// shutdown tears the agent down: queued gate tasks are canceled, timers
// cleared, queues stopped, background send loops joined and every pending
// waiter rejected. Idempotent.
func (a *Agent) shutdown() {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return
	}
	a.closed = true

	pending := a.pendingRequests
	a.pendingRequests = make(map[types.InvVector][]chan requestResult)

	bpr := a.blockProofRequest
	tpr := a.transactionsProofRequest
	trr := a.transactionReceiptsRequest
	a.blockProofRequest = nil
	a.transactionsProofRequest = nil
	a.transactionReceiptsRequest = nil
	a.mtx.Unlock()

	close(a.quitc)
	a.gates.Stop()
	a.timers.Stop()
	a.txsToRequest.Stop()
	a.waitingInvVectors.Stop()
	a.waitingFreeInvVectors.Stop()

	// join the background send loops; they abort promptly on quitc
	a.sends.Wait() //nolint:errcheck

	for _, waiters := range pending {
		deliver(waiters, requestResult{err: ErrShutdown})
	}
	if bpr != nil {
		bpr.done <- blockProofResult{err: ErrShutdown}
	}
	if tpr != nil {
		tpr.done <- transactionsProofResult{err: ErrShutdown}
	}
	if trr != nil {
		trr.done <- transactionReceiptsResult{err: ErrShutdown}
	}
}

func deliver(waiters []chan requestResult, res requestResult) {
	for _, ch := range waiters {
		ch <- res
	}
}

// Peer returns the remote peer this agent is bound to.
func (a *Agent) Peer() *p2p.Peer { return a.peer }

// Synced reports whether initial sync with this peer finished.
func (a *Agent) Synced() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.synced
}

// SetSynced is called by the node type once initial sync completes; it
// unlocks block relay.
func (a *Agent) SetSynced() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.synced = true
}

// Receive dispatches one inbound message. The transport calls it serially in
// arrival order; inv messages are additionally funneled through the onInv
// gate so their bodies cannot interleave.
func (a *Agent) Receive(msg p2p.Message) {
	a.mtx.Lock()
	if a.closed {
		a.mtx.Unlock()
		return
	}
	a.mtx.Unlock()

	a.metrics.MessagesReceived.With("message_type", msg.Type().String()).Add(1)

	switch m := msg.(type) {
	case *p2p.InvMessage:
		if err := <-a.gates.Push(syncKeyOnInv, func() error {
			a.onInv(m)
			return nil
		}); err != nil {
			a.logger.Debug("inv processing canceled", "err", err)
		}
	case *p2p.BlockMessage:
		a.onBlock(m)
	case *p2p.HeaderMessage:
		a.onHeader(m)
	case *p2p.TxMessage:
		a.onTx(m)
	case *p2p.NotFoundMessage:
		a.onNotFound(m)
	case *p2p.SubscribeMessage:
		a.onSubscribe(m)
	case *p2p.GetDataMessage:
		a.onGetData(m)
	case *p2p.GetHeaderMessage:
		a.onGetHeader(m)
	case *p2p.MempoolMessage:
		a.onMempool(m)
	case *p2p.GetHeadMessage:
		a.onGetHead(m)
	case *p2p.HeadMessage:
		a.onHead(m)
	case *p2p.BlockProofMessage:
		a.onBlockProof(m)
	case *p2p.TransactionsProofMessage:
		a.onTransactionsProof(m)
	case *p2p.TransactionReceiptsMessage:
		a.onTransactionReceipts(m)
	default:
		a.logger.Error("received unknown message type", "type", fmt.Sprintf("%T", msg))
	}
}

//-----------------------------------------------------------------------------
// Subscriptions

// Subscribe declares to the peer which announcements we want to receive.
func (a *Agent) Subscribe(sub types.Subscription) {
	a.mtx.Lock()
	a.targetSubscription = sub
	a.localSubscription = sub
	a.lastSubscriptionChange = time.Now()
	a.mtx.Unlock()

	if err := a.channel.Send(&p2p.SubscribeMessage{Subscription: sub}); err != nil {
		a.logger.Error("failed to send subscribe", "err", err)
	}
}

// LocalSubscription returns what we asked the peer to send.
func (a *Agent) LocalSubscription() types.Subscription {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.localSubscription
}

// RemoteSubscription returns the peer's declared interest.
func (a *Agent) RemoteSubscription() types.Subscription {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.remoteSubscription
}

func (a *Agent) onSubscribe(msg *p2p.SubscribeMessage) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.remoteSubscription = msg.Subscription
}

//-----------------------------------------------------------------------------
// Head tracking

func (a *Agent) requestHead() {
	if err := a.channel.Send(&p2p.GetHeadMessage{}); err != nil {
		a.logger.Error("failed to send get-head", "err", err)
	}
	a.timers.ResetTimeout(timerGetHead, a.requestHead, a.cfg.HeadRequestInterval)
}

func (a *Agent) onHead(msg *p2p.HeadMessage) {
	if msg.Header == nil {
		return
	}
	a.peer.SetHead(msg.Header)
	a.logger.Debug("peer head updated", "peer", a.peer, "height", msg.Header.Height)

	// poll again HeadRequestInterval after the most recent update
	a.timers.ResetTimeout(timerGetHead, a.requestHead, a.cfg.HeadRequestInterval)
}

func (a *Agent) onGetHead(*p2p.GetHeadMessage) {
	head := a.backend.GetHead()
	if head == nil {
		return
	}
	if err := a.channel.Send(&p2p.HeadMessage{Header: head}); err != nil {
		a.logger.Error("failed to send head", "err", err)
	}
}

// recordPeerHead updates the tracked peer head from a delivered block or
// header and reschedules the next head poll.
func (a *Agent) recordPeerHead(header *types.Header) {
	head := a.peer.Head()
	if (head == nil && a.peer.HeadHash() == header.Hash()) ||
		(head != nil && header.Height > head.Height) {
		a.peer.SetHead(header)
		a.timers.ResetTimeout(timerGetHead, a.requestHead, a.cfg.HeadRequestInterval)
	}
}

//-----------------------------------------------------------------------------
// Debug accessors

// InFlightCount returns the size of the current get-data batch.
func (a *Agent) InFlightCount() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return len(a.objectsInFlight)
}

// ProcessingCount returns how many delivered objects are being processed.
func (a *Agent) ProcessingCount() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return len(a.objectsProcessing)
}

// KnownObjectsCount returns the size of the known-objects set.
func (a *Agent) KnownObjectsCount() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.knownObjects.Len()
}

// KnowsObject reports whether the peer is assumed to know the object.
func (a *Agent) KnowsObject(v types.InvVector) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.knownObjects.Contains(v)
}

func (a *Agent) String() string {
	return fmt.Sprintf("ConsensusAgent{peer: %s}", a.peer.ID())
}
