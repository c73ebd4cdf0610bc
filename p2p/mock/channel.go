package mock

import (
	"sync"
	"time"

	"github.com/cobaltchain/cobalt/p2p"
)

// Channel is an in-memory p2p.Channel for tests. It records every outbound
// message and models ExpectMessage deadlines without real timers: tests fire
// them explicitly via FireTimeout.
type Channel struct {
	mtx      sync.Mutex
	sent     []p2p.Message
	expects  map[p2p.MessageType]func()
	closed   bool
	closeErr struct {
		code   p2p.CloseCode
		reason string
	}
}

var _ p2p.Channel = (*Channel)(nil)

func NewChannel() *Channel {
	return &Channel{
		expects: make(map[p2p.MessageType]func()),
	}
}

// Send implements p2p.Channel by recording the message.
func (c *Channel) Send(msg p2p.Message) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.sent = append(c.sent, msg)
	return nil
}

// ExpectMessage implements p2p.Channel by storing the timeout callback for
// manual firing.
func (c *Channel) ExpectMessage(msgType p2p.MessageType, onTimeout func(), timeout time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.expects[msgType] = onTimeout
}

// Close implements p2p.Channel.
func (c *Channel) Close(code p2p.CloseCode, reason string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeErr.code = code
	c.closeErr.reason = reason
}

// MessageReceived cancels a pending expectation, mirroring what a real
// transport does when a message of the expected type arrives. Call it before
// handing the message to the agent.
func (c *Channel) MessageReceived(msgType p2p.MessageType) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	delete(c.expects, msgType)
}

// FireTimeout runs and clears the pending expectation for msgType, returning
// false if none is armed.
func (c *Channel) FireTimeout(msgType p2p.MessageType) bool {
	c.mtx.Lock()
	onTimeout, ok := c.expects[msgType]
	delete(c.expects, msgType)
	c.mtx.Unlock()

	if !ok {
		return false
	}
	onTimeout()
	return true
}

// HasExpect reports whether a deadline is armed for msgType.
func (c *Channel) HasExpect(msgType p2p.MessageType) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	_, ok := c.expects[msgType]
	return ok
}

// Sent returns a copy of all recorded messages.
func (c *Channel) Sent() []p2p.Message {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	out := make([]p2p.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOfType returns the recorded messages of the given type, in order.
func (c *Channel) SentOfType(msgType p2p.MessageType) []p2p.Message {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var out []p2p.Message
	for _, msg := range c.sent {
		if msg.Type() == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// DropSent forgets all recorded messages.
func (c *Channel) DropSent() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.sent = nil
}

// IsClosed reports whether Close was called.
func (c *Channel) IsClosed() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.closed
}

// CloseCode returns the code passed to the first Close call.
func (c *Channel) CloseCode() p2p.CloseCode {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.closeErr.code
}

// CloseReason returns the reason passed to the first Close call.
func (c *Channel) CloseReason() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.closeErr.reason
}
