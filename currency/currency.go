// Package currency defines the small value types shared across the core:
// named currency tags, mediator fee rates, and the ordered friend routes
// payments travel along.
package currency

import (
	"bytes"
	"fmt"
	"math/big"
)

// MaxTagLength bounds a currency tag so it fits comfortably in a MoveToken
// batch without becoming a griefing vector.
const MaxTagLength = 32

// Currency is a short opaque text tag; equality is by bytes, not by any
// structured meaning the core assigns to the text.
type Currency struct {
	tag string
}

// New validates and wraps a currency tag.
func New(tag string) (Currency, error) {
	if len(tag) == 0 {
		return Currency{}, fmt.Errorf("currency: empty tag")
	}
	if len(tag) > MaxTagLength {
		return Currency{}, fmt.Errorf("currency: tag %q exceeds %d bytes", tag, MaxTagLength)
	}
	return Currency{tag: tag}, nil
}

// String returns the tag text.
func (c Currency) String() string { return c.tag }

// Bytes returns the tag bytes, used as MutualCredit/activeCurrencies map and
// set keys.
func (c Currency) Bytes() []byte { return []byte(c.tag) }

// Equal compares two currencies by bytes.
func (c Currency) Equal(other Currency) bool { return c.tag == other.tag }

// Less gives currencies a total order so activeCurrencies can be kept as a
// sorted slice (spec.md's "ordered set").
func (c Currency) Less(other Currency) bool { return c.tag < other.tag }

// RateInfinite is the sentinel fee rate that blocks mediation outright.
var RateInfinite = Rate{infinite: true}

// Rate is a mediator's fee for forwarding one unit of payment along its
// outgoing hop: fee = mul*destPayment/2^32 + add, saturating.
type Rate struct {
	mul, add uint32
	infinite bool
}

// NewRate constructs a finite rate from its fixed-point multiplier and
// additive constant.
func NewRate(mul, add uint32) Rate {
	return Rate{mul: mul, add: add}
}

// IsInfinite reports whether this rate blocks mediation.
func (r Rate) IsInfinite() bool { return r.infinite }

// Apply computes the saturating fee for forwarding destPayment units.
// fee = mul*destPayment/2^32 + add, each step saturating at the u128 max.
func (r Rate) Apply(destPayment *big.Int) *big.Int {
	if r.infinite {
		return MaxU128()
	}
	if destPayment == nil || destPayment.Sign() <= 0 {
		return big.NewInt(int64(r.add))
	}
	mulTerm := new(big.Int).Mul(destPayment, big.NewInt(int64(r.mul)))
	mulTerm.Rsh(mulTerm, 32)
	fee := new(big.Int).Add(mulTerm, big.NewInt(int64(r.add)))
	if fee.Cmp(MaxU128()) > 0 {
		return MaxU128()
	}
	return fee
}

var maxU128 = func() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 128)
	return v.Sub(v, big.NewInt(1))
}()

// MaxU128 returns the saturation ceiling used throughout the module for
// unsigned 128-bit quantities (debts, payments, fees).
func MaxU128() *big.Int {
	return new(big.Int).Set(maxU128)
}

// FriendsRoute is an ordered sequence of public-key identities with no
// adjacent duplicates; the first element is the source, the last the
// destination.
type FriendsRoute struct {
	hops [][]byte
}

// MaxRouteHops bounds route length; longer routes are cancelled at ingress
// (spec.md §4.4).
const MaxRouteHops = 64

// NewFriendsRoute validates and wraps an ordered hop list. Hops are the
// 33-byte compressed identities of each friend along the route.
func NewFriendsRoute(hops [][]byte) (FriendsRoute, error) {
	if len(hops) < 2 {
		return FriendsRoute{}, fmt.Errorf("currency: route must have at least source and destination")
	}
	if len(hops) > MaxRouteHops {
		return FriendsRoute{}, fmt.Errorf("currency: route exceeds %d hops", MaxRouteHops)
	}
	for i := 1; i < len(hops); i++ {
		if bytes.Equal(hops[i-1], hops[i]) {
			return FriendsRoute{}, fmt.Errorf("currency: route contains adjacent duplicate hop")
		}
	}
	seen := make(map[string]struct{}, len(hops))
	for _, h := range hops {
		key := string(h)
		if _, ok := seen[key]; ok {
			return FriendsRoute{}, fmt.Errorf("currency: route contains a loop")
		}
		seen[key] = struct{}{}
	}
	cp := make([][]byte, len(hops))
	for i, h := range hops {
		cp[i] = append([]byte(nil), h...)
	}
	return FriendsRoute{hops: cp}, nil
}

// Hops returns the ordered list of identities.
func (r FriendsRoute) Hops() [][]byte { return r.hops }

// Len returns the number of hops (including source and destination).
func (r FriendsRoute) Len() int { return len(r.hops) }

// Source returns the route's originating identity.
func (r FriendsRoute) Source() []byte { return r.hops[0] }

// Destination returns the route's terminal identity.
func (r FriendsRoute) Destination() []byte { return r.hops[len(r.hops)-1] }

// IndexOf returns the position of pk in the route, or -1 if absent.
func (r FriendsRoute) IndexOf(pk []byte) int {
	for i, h := range r.hops {
		if bytes.Equal(h, pk) {
			return i
		}
	}
	return -1
}

// NextHop returns the identity immediately after pk's position, and
// whether one exists (false at the destination).
func (r FriendsRoute) NextHop(pk []byte) ([]byte, bool) {
	idx := r.IndexOf(pk)
	if idx < 0 || idx == len(r.hops)-1 {
		return nil, false
	}
	return r.hops[idx+1], true
}

// PrevHop returns the identity immediately before pk's position, and
// whether one exists (false at the source).
func (r FriendsRoute) PrevHop(pk []byte) ([]byte, bool) {
	idx := r.IndexOf(pk)
	if idx <= 0 {
		return nil, false
	}
	return r.hops[idx-1], true
}
