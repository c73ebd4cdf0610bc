package p2p

import "time"

// Channel is the agent's view of the message pipe to one remote peer. The
// transport behind it owns framing, encoding and socket I/O.
//
// ExpectMessage installs a deadline for the next inbound message of the given
// type: if none arrives within timeout, onTimeout runs once. Receiving any
// message of that type cancels the deadline. At most one expectation per type
// is active; installing a second one replaces the first.
type Channel interface {
	// Send enqueues a message for delivery to the peer.
	Send(msg Message) error

	// ExpectMessage arms the response deadline for a message type.
	ExpectMessage(msgType MessageType, onTimeout func(), timeout time.Duration)

	// Close tears the connection down, reporting code and reason to the
	// connection layer. Closing an already-closed channel is a no-op.
	Close(code CloseCode, reason string)
}
