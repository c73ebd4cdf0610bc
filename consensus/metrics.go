package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "consensus_agent"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of messages received, keyed by message type.
	MessagesReceived metrics.Counter
	// Number of unsolicited objects dropped.
	UnsolicitedObjects metrics.Counter
	// Number of vectors put on the wire in get-data/get-header batches.
	VectorsRequested metrics.Counter
	// Number of get-data batches that timed out.
	RequestTimeouts metrics.Counter
	// Number of transactions queued for relay, keyed by class (paid/free).
	RelayedTransactions metrics.Counter
	// Number of proof requests issued, keyed by kind.
	ProofRequests metrics.Counter
	// Number of proof responses that failed validation, keyed by kind.
	ProofFailures metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_received",
			Help:      "Number of messages received from the peer.",
		}, []string{"message_type"}),
		UnsolicitedObjects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "unsolicited_objects",
			Help:      "Number of unsolicited object deliveries dropped.",
		}, []string{}),
		VectorsRequested: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "vectors_requested",
			Help:      "Number of vectors requested from the peer.",
		}, []string{}),
		RequestTimeouts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_timeouts",
			Help:      "Number of get-data batches that timed out.",
		}, []string{}),
		RelayedTransactions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "relayed_transactions",
			Help:      "Number of transactions queued for relay to the peer.",
		}, []string{"class"}),
		ProofRequests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proof_requests",
			Help:      "Number of proof requests issued to the peer.",
		}, []string{"kind"}),
		ProofFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proof_failures",
			Help:      "Number of proof responses that failed validation.",
		}, []string{"kind"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		MessagesReceived:    discard.NewCounter(),
		UnsolicitedObjects:  discard.NewCounter(),
		VectorsRequested:    discard.NewCounter(),
		RequestTimeouts:     discard.NewCounter(),
		RelayedTransactions: discard.NewCounter(),
		ProofRequests:       discard.NewCounter(),
		ProofFailures:       discard.NewCounter(),
	}
}
