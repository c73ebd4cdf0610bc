package p2p

import "fmt"

// CloseCode is attached to a channel closure so the layer above can decide
// whether to ban the peer.
type CloseCode int

const (
	CloseShutdown CloseCode = iota
	CloseTransactionNotMatchingSubscription
	CloseInvalidBlockProof
	CloseInvalidTransactionProof
	CloseGetTransactionsProofTimeout
	CloseGetTransactionReceiptsTimeout
)

func (c CloseCode) String() string {
	switch c {
	case CloseShutdown:
		return "shutdown"
	case CloseTransactionNotMatchingSubscription:
		return "transaction-not-matching-subscription"
	case CloseInvalidBlockProof:
		return "invalid-block-proof"
	case CloseInvalidTransactionProof:
		return "invalid-transaction-proof"
	case CloseGetTransactionsProofTimeout:
		return "get-transactions-proof-timeout"
	case CloseGetTransactionReceiptsTimeout:
		return "get-transaction-receipts-timeout"
	default:
		return fmt.Sprintf("close-%d", int(c))
	}
}
