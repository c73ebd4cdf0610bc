package consensus

import (
	"sync"

	"github.com/cobaltchain/cobalt/types"
)

// Requester is the callback surface the inv request coordinator uses to tell
// an agent to actually fetch a vector.
type Requester interface {
	RequestVectors(vectors ...types.InvVector)
}

// InvRequestManager arbitrates, across all connected peers, which agent
// should fetch each advertised object so that an object announced by many
// peers is downloaded once.
type InvRequestManager interface {
	// AskToRequestVector registers interest; the manager eventually calls
	// RequestVectors on exactly one interested requester.
	AskToRequestVector(requester Requester, vector types.InvVector)

	// NoteVectorReceived records that the object arrived.
	NoteVectorReceived(vector types.InvVector)

	// NoteVectorNotReceived records that the requester failed to deliver;
	// the manager may retry through another interested requester.
	NoteVectorNotReceived(requester Requester, vector types.InvVector)
}

// DirectInvRequestManager is the trivial coordinator: every interested agent
// fetches immediately. Suitable for single-peer setups and tests; a node with
// many peers plugs in its own arbitrating implementation.
type DirectInvRequestManager struct {
	mtx     sync.Mutex
	pending map[types.InvVector]struct{}
}

var _ InvRequestManager = (*DirectInvRequestManager)(nil)

func NewDirectInvRequestManager() *DirectInvRequestManager {
	return &DirectInvRequestManager{
		pending: make(map[types.InvVector]struct{}),
	}
}

func (m *DirectInvRequestManager) AskToRequestVector(requester Requester, vector types.InvVector) {
	m.mtx.Lock()
	m.pending[vector] = struct{}{}
	m.mtx.Unlock()

	requester.RequestVectors(vector)
}

func (m *DirectInvRequestManager) NoteVectorReceived(vector types.InvVector) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.pending, vector)
}

func (m *DirectInvRequestManager) NoteVectorNotReceived(requester Requester, vector types.InvVector) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.pending, vector)
}
