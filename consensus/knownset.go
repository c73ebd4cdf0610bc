package consensus

import (
	"container/list"

	"github.com/cobaltchain/cobalt/types"
)

// KnownSet is a bounded set of inv vectors with FIFO eviction: once the
// capacity is exceeded, the oldest entries are dropped. Re-adding an existing
// vector is a no-op and does not refresh its age.
//
// KnownSet is not safe for concurrent use; the owner synchronizes access.
type KnownSet struct {
	capacity int
	elems    map[types.InvVector]*list.Element
	order    *list.List // of types.InvVector, oldest at front
}

func NewKnownSet(capacity int) *KnownSet {
	return &KnownSet{
		capacity: capacity,
		elems:    make(map[types.InvVector]*list.Element),
		order:    list.New(),
	}
}

// Add inserts v, evicting the oldest entries if the capacity is exceeded.
func (s *KnownSet) Add(v types.InvVector) {
	if _, ok := s.elems[v]; ok {
		return
	}
	s.elems[v] = s.order.PushBack(v)

	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.elems, oldest.Value.(types.InvVector))
	}
}

// Contains reports membership.
func (s *KnownSet) Contains(v types.InvVector) bool {
	_, ok := s.elems[v]
	return ok
}

// Len returns the current size.
func (s *KnownSet) Len() int {
	return s.order.Len()
}

// Vectors returns the members in insertion order.
func (s *KnownSet) Vectors() []types.InvVector {
	out := make([]types.InvVector, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(types.InvVector))
	}
	return out
}
