package consensus

import "time"

// Config carries the agent's protocol knobs. Defaults reflect the wire
// protocol; tests shrink the timeouts.
type Config struct {
	// Number of pending to-request vectors that triggers an immediate
	// get-data, bypassing the collection window.
	RequestThreshold int
	// Collection window for coalescing announced vectors into one batch.
	RequestThrottle time.Duration
	// Deadline for a get-data/get-header batch and for direct requests.
	RequestTimeout time.Duration

	BlockProofRequestTimeout          time.Duration
	TransactionsProofRequestTimeout   time.Duration
	TransactionReceiptsRequestTimeout time.Duration

	// Relay flush intervals.
	TransactionRelayInterval     time.Duration
	FreeTransactionRelayInterval time.Duration

	// Token-bucket parameters of the paid relay queue.
	TransactionsAtOnce    int
	TransactionsPerSecond int
	// Token-bucket parameters of the free relay queue.
	FreeTransactionsAtOnce    int
	FreeTransactionsPerSecond int
	// Byte budget of one free relay flush.
	FreeTransactionSizePerInterval int
	// Fee/byte below which a transaction relays through the free queue.
	TransactionRelayFeeMin float64

	// How long after a local subscription change the peer may still send
	// non-matching transactions.
	SubscriptionChangeGracePeriod time.Duration

	// Head polling period, measured from the most recent head update.
	HeadRequestInterval time.Duration

	// Delay after announcing an object until the peer is assumed to know it.
	KnowsObjectAfterInvDelay time.Duration

	// Capacity of the known-objects set.
	KnownObjectsCountMax int

	// Backlog bounds of the to-request queues.
	RequestTransactionsWaitingMax int
	RequestBlocksWaitingMax       int

	// Maximum number of vectors per inv/get-data/get-header frame.
	VectorsMaxCount int

	// Pause between inv batches when serving a mempool message.
	MempoolThrottle time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestThreshold:                  50,
		RequestThrottle:                   500 * time.Millisecond,
		RequestTimeout:                    10 * time.Second,
		BlockProofRequestTimeout:          10 * time.Second,
		TransactionsProofRequestTimeout:   10 * time.Second,
		TransactionReceiptsRequestTimeout: 15 * time.Second,
		TransactionRelayInterval:          5 * time.Second,
		FreeTransactionRelayInterval:      6 * time.Second,
		TransactionsAtOnce:                100,
		TransactionsPerSecond:             10,
		FreeTransactionsAtOnce:            10,
		FreeTransactionsPerSecond:         1,
		FreeTransactionSizePerInterval:    15000,
		TransactionRelayFeeMin:            1,
		SubscriptionChangeGracePeriod:     3 * time.Second,
		HeadRequestInterval:               100 * time.Second,
		KnowsObjectAfterInvDelay:          3 * time.Second,
		KnownObjectsCountMax:              40000,
		RequestTransactionsWaitingMax:     5000,
		RequestBlocksWaitingMax:           5000,
		VectorsMaxCount:                   1000,
		MempoolThrottle:                   100 * time.Millisecond,
	}
}
