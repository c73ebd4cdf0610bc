package consensus

import "errors"

var (
	// ErrTimeout is reported when the peer did not answer a request within
	// the per-operation timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrNotFound is reported when the peer explicitly declared it does not
	// have the requested object.
	ErrNotFound = errors.New("object not found by peer")

	// ErrRejected is reported when a proof response carried no proof payload.
	ErrRejected = errors.New("proof request rejected by peer")

	// ErrInvalidProof is reported when a proof response failed validation.
	// Validation failures beyond the tail/anchor checks also close the
	// channel.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrUnsupportedPeerVersion is reported synchronously when a v2 request
	// is invoked against a v1 peer.
	ErrUnsupportedPeerVersion = errors.New("request not supported by peer version")

	// ErrShutdown is reported to pending requests when the agent shuts down.
	ErrShutdown = errors.New("agent shut down")
)
