package types

import (
	"fmt"
	"sort"
	"strings"
)

// SubscriptionKind enumerates the predefined subscription predicates.
type SubscriptionKind uint8

const (
	// SubscriptionNone matches nothing.
	SubscriptionNone SubscriptionKind = iota
	// SubscriptionAny matches every block and transaction.
	SubscriptionAny
	// SubscriptionAddresses matches transactions touching one of the listed
	// addresses; all blocks match.
	SubscriptionAddresses
	// SubscriptionMinFee matches transactions with fee/byte at or above the
	// threshold; all blocks match.
	SubscriptionMinFee
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubscriptionNone:
		return "none"
	case SubscriptionAny:
		return "any"
	case SubscriptionAddresses:
		return "addresses"
	case SubscriptionMinFee:
		return "min-fee"
	default:
		return fmt.Sprintf("subscription-%d", uint8(k))
	}
}

// Subscription is a total, side-effect-free predicate over blocks and
// transactions, describing which announcements a party wants to receive.
// The zero value matches nothing.
type Subscription struct {
	kind          SubscriptionKind
	addresses     map[Address]struct{}
	minFeePerByte float64
}

func SubscribeNone() Subscription { return Subscription{kind: SubscriptionNone} }
func SubscribeAny() Subscription  { return Subscription{kind: SubscriptionAny} }

func SubscribeToAddresses(addresses ...Address) Subscription {
	set := make(map[Address]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return Subscription{kind: SubscriptionAddresses, addresses: set}
}

func SubscribeToMinFee(minFeePerByte float64) Subscription {
	return Subscription{kind: SubscriptionMinFee, minFeePerByte: minFeePerByte}
}

func (s Subscription) Kind() SubscriptionKind { return s.kind }

// Addresses returns the subscribed addresses in deterministic order.
func (s Subscription) Addresses() []Address {
	out := make([]Address, 0, len(s.addresses))
	for a := range s.addresses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].String(), out[j].String()) < 0
	})
	return out
}

func (s Subscription) MinFeePerByte() float64 { return s.minFeePerByte }

// MatchesBlock reports whether block announcements pass the predicate.
func (s Subscription) MatchesBlock(*Block) bool {
	return s.kind != SubscriptionNone
}

// MatchesTransaction reports whether the transaction passes the predicate.
func (s Subscription) MatchesTransaction(tx *Transaction) bool {
	switch s.kind {
	case SubscriptionAny:
		return true
	case SubscriptionAddresses:
		if _, ok := s.addresses[tx.Sender]; ok {
			return true
		}
		_, ok := s.addresses[tx.Recipient]
		return ok
	case SubscriptionMinFee:
		return tx.FeePerByte() >= s.minFeePerByte
	default:
		return false
	}
}

func (s Subscription) String() string {
	switch s.kind {
	case SubscriptionAddresses:
		return fmt.Sprintf("Subscription{addresses: %d}", len(s.addresses))
	case SubscriptionMinFee:
		return fmt.Sprintf("Subscription{minFeePerByte: %g}", s.minFeePerByte)
	default:
		return fmt.Sprintf("Subscription{%s}", s.kind)
	}
}
