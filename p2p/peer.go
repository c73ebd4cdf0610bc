package p2p

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cobaltchain/cobalt/types"
)

// NodeID uniquely identifies a remote node.
type NodeID string

// ProofRequestsMinVersion is the first protocol version supporting block
// proofs by height and transactions proofs / receipts by hashes.
const ProofRequestsMinVersion = 2

// Peer carries the handshake facts and the tracked head of one remote peer.
// The head fields are updated from head announcements and delivered blocks;
// access is synchronized.
//
// NOTE: Modify below using setters, never directly.
type Peer struct {
	id      NodeID
	version uint16

	mtx      sync.RWMutex
	head     *types.Header
	headHash types.Hash
}

// NewPeer returns a peer record for the given handshake data. headHash is the
// head hash the peer announced during the handshake; the full header is
// unknown until the first head message or block delivery.
func NewPeer(id NodeID, version uint16, headHash types.Hash) *Peer {
	return &Peer{
		id:       id,
		version:  version,
		headHash: headHash,
	}
}

func (p *Peer) ID() NodeID      { return p.id }
func (p *Peer) Version() uint16 { return p.version }

// SupportsProofRequests reports whether the v2 request family may be used.
func (p *Peer) SupportsProofRequests() bool {
	return p.version >= ProofRequestsMinVersion
}

// Head returns the last known head header, or nil if none was seen yet.
func (p *Peer) Head() *types.Header {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return p.head
}

// HeadHash returns the hash of the peer's announced head.
func (p *Peer) HeadHash() types.Hash {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if p.head != nil {
		return p.head.Hash()
	}
	return p.headHash
}

// SetHead records a newly learned head header.
func (p *Peer) SetHead(head *types.Header) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.head = head
	if head != nil {
		p.headHash = head.Hash()
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer{%s, v%d}", p.id, p.version)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (p *Peer) MarshalZerologObject(e *zerolog.Event) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	e.Str("id", string(p.id)).Uint16("version", p.version)
	if p.head != nil {
		e.Uint32("head_height", p.head.Height)
	}
}
