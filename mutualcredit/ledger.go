// Package mutualcredit implements the per-(friend, currency) balance ledger:
// signed balance, frozen pending debts in each direction, and the debt caps
// that bound them. Every mutating method is total: it either commits a
// delta or returns a named error and leaves the ledger untouched.
package mutualcredit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/freedomlayer/offset/currency"
)

// ErrInsufficientCapacity is returned when a freeze would breach a debt
// limit.
var ErrInsufficientCapacity = errors.New("mutualcredit: insufficient capacity")

// ErrUnderflow is returned when an unfreeze or commit would drive a pending
// debt below zero.
var ErrUnderflow = errors.New("mutualcredit: underflow")

// ErrOverflow marks a fatal protocol error: an operation that would exceed
// the u128/i128 saturation ceiling. Per spec.md §4.2 this must surface as
// channel inconsistency, never be silently clamped.
var ErrOverflow = errors.New("mutualcredit: overflow")

// Ledger is one instance per (friend, currency): balance plus the pending
// debt accounting and freeze tracking spec.md §3 describes.
type Ledger struct {
	balance            *big.Int // signed
	localMaxDebt       *big.Int // unsigned
	remoteMaxDebt      *big.Int // unsigned
	localPendingDebt   *big.Int // unsigned
	remotePendingDebt  *big.Int // unsigned
	inFees             *big.Int // unsigned
	outFees            *big.Int // unsigned
	localRequestsOpen  bool
	remoteRequestsOpen bool
}

// New constructs a zero-balance ledger, matching the "initial" MoveToken
// both sides of a fresh friendship agree on without signing.
func New() *Ledger {
	return &Ledger{
		balance:           big.NewInt(0),
		localMaxDebt:      big.NewInt(0),
		remoteMaxDebt:     big.NewInt(0),
		localPendingDebt:  big.NewInt(0),
		remotePendingDebt: big.NewInt(0),
		inFees:            big.NewInt(0),
		outFees:           big.NewInt(0),
	}
}

// Snapshot is an immutable, independently-owned copy of a Ledger's fields,
// used by the persistence façade and by reset-term computation.
type Snapshot struct {
	Balance            *big.Int
	LocalMaxDebt       *big.Int
	RemoteMaxDebt      *big.Int
	LocalPendingDebt   *big.Int
	RemotePendingDebt  *big.Int
	InFees             *big.Int
	OutFees            *big.Int
	LocalRequestsOpen  bool
	RemoteRequestsOpen bool
}

// Snapshot copies out the ledger's current state.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Balance:            new(big.Int).Set(l.balance),
		LocalMaxDebt:       new(big.Int).Set(l.localMaxDebt),
		RemoteMaxDebt:      new(big.Int).Set(l.remoteMaxDebt),
		LocalPendingDebt:   new(big.Int).Set(l.localPendingDebt),
		RemotePendingDebt:  new(big.Int).Set(l.remotePendingDebt),
		InFees:             new(big.Int).Set(l.inFees),
		OutFees:            new(big.Int).Set(l.outFees),
		LocalRequestsOpen:  l.localRequestsOpen,
		RemoteRequestsOpen: l.remoteRequestsOpen,
	}
}

// FromSnapshot rebuilds a Ledger from a persisted Snapshot.
func FromSnapshot(s Snapshot) *Ledger {
	clone := func(v *big.Int) *big.Int {
		if v == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(v)
	}
	return &Ledger{
		balance:            clone(s.Balance),
		localMaxDebt:       clone(s.LocalMaxDebt),
		remoteMaxDebt:      clone(s.RemoteMaxDebt),
		localPendingDebt:   clone(s.LocalPendingDebt),
		remotePendingDebt:  clone(s.RemotePendingDebt),
		inFees:             clone(s.InFees),
		outFees:            clone(s.OutFees),
		localRequestsOpen:  s.LocalRequestsOpen,
		remoteRequestsOpen: s.RemoteRequestsOpen,
	}
}

// Balance returns the current signed balance.
func (l *Ledger) Balance() *big.Int { return new(big.Int).Set(l.balance) }

// LocalPendingDebt returns the currently frozen outgoing debt.
func (l *Ledger) LocalPendingDebt() *big.Int { return new(big.Int).Set(l.localPendingDebt) }

// RemotePendingDebt returns the currently frozen incoming debt.
func (l *Ledger) RemotePendingDebt() *big.Int { return new(big.Int).Set(l.remotePendingDebt) }

// LocalRequestsOpen reports whether this side currently accepts new
// outgoing requests on this currency.
func (l *Ledger) LocalRequestsOpen() bool { return l.localRequestsOpen }

// RemoteRequestsOpen reports whether the remote side currently accepts new
// requests from us on this currency.
func (l *Ledger) RemoteRequestsOpen() bool { return l.remoteRequestsOpen }

// CheckInvariant verifies spec.md §8 invariant 1 for this ledger.
func (l *Ledger) CheckInvariant() error {
	lowerLocal := new(big.Int).Sub(l.balance, l.localPendingDebt)
	negLocalMax := new(big.Int).Neg(l.localMaxDebt)
	if lowerLocal.Cmp(negLocalMax) < 0 {
		return fmt.Errorf("mutualcredit: invariant violated: balance-localPendingDebt < -localMaxDebt")
	}
	upperRemote := new(big.Int).Add(l.balance, l.remotePendingDebt)
	if upperRemote.Cmp(l.remoteMaxDebt) > 0 {
		return fmt.Errorf("mutualcredit: invariant violated: balance+remotePendingDebt > remoteMaxDebt")
	}
	return nil
}

// SetRemoteMaxDebt updates the debt ceiling the remote side extends to us.
func (l *Ledger) SetRemoteMaxDebt(v *big.Int) {
	l.remoteMaxDebt = new(big.Int).Set(v)
}

// SetLocalMaxDebt updates the debt ceiling we extend to the remote side.
// Not part of the wire protocol (each side only ever sets its own
// remoteMaxDebt operation as seen by the other), but needed locally so a
// friend's configured limit has somewhere to live before being sent.
func (l *Ledger) SetLocalMaxDebt(v *big.Int) {
	l.localMaxDebt = new(big.Int).Set(v)
}

// LocalMaxDebt returns the debt ceiling we extend to the remote side.
func (l *Ledger) LocalMaxDebt() *big.Int { return new(big.Int).Set(l.localMaxDebt) }

// RemoteMaxDebt returns the debt ceiling the remote side extends to us.
func (l *Ledger) RemoteMaxDebt() *big.Int { return new(big.Int).Set(l.remoteMaxDebt) }

// SetLocalRequests flips whether this side accepts new outgoing requests.
func (l *Ledger) SetLocalRequests(open bool) { l.localRequestsOpen = open }

// SetRemoteRequests flips whether the remote side accepts new requests.
func (l *Ledger) SetRemoteRequests(open bool) { l.remoteRequestsOpen = open }

func nonNegative(v *big.Int) bool { return v != nil && v.Sign() >= 0 }

// FreezeLocal freezes `amount` of outgoing credit ahead of a Request we are
// forwarding or originating.
func (l *Ledger) FreezeLocal(amount *big.Int) error {
	if !nonNegative(amount) {
		return fmt.Errorf("mutualcredit: freeze amount must be non-negative")
	}
	next := new(big.Int).Add(l.localPendingDebt, amount)
	if next.Cmp(currency.MaxU128()) > 0 {
		return ErrOverflow
	}
	lower := new(big.Int).Sub(l.balance, next)
	negLocalMax := new(big.Int).Neg(l.localMaxDebt)
	if lower.Cmp(negLocalMax) < 0 {
		return ErrInsufficientCapacity
	}
	l.localPendingDebt = next
	return nil
}

// FreezeRemote freezes `amount` of incoming credit for a Request the remote
// side has forwarded to us.
func (l *Ledger) FreezeRemote(amount *big.Int) error {
	if !nonNegative(amount) {
		return fmt.Errorf("mutualcredit: freeze amount must be non-negative")
	}
	next := new(big.Int).Add(l.remotePendingDebt, amount)
	if next.Cmp(currency.MaxU128()) > 0 {
		return ErrOverflow
	}
	upper := new(big.Int).Add(l.balance, next)
	if upper.Cmp(l.remoteMaxDebt) > 0 {
		return ErrInsufficientCapacity
	}
	l.remotePendingDebt = next
	return nil
}

// UnfreezeLocal releases a previously frozen outgoing amount without moving
// the balance (a Cancel).
func (l *Ledger) UnfreezeLocal(amount *big.Int) error {
	if !nonNegative(amount) {
		return fmt.Errorf("mutualcredit: unfreeze amount must be non-negative")
	}
	if l.localPendingDebt.Cmp(amount) < 0 {
		return ErrUnderflow
	}
	l.localPendingDebt = new(big.Int).Sub(l.localPendingDebt, amount)
	return nil
}

// UnfreezeRemote releases a previously frozen incoming amount without
// moving the balance (a Cancel).
func (l *Ledger) UnfreezeRemote(amount *big.Int) error {
	if !nonNegative(amount) {
		return fmt.Errorf("mutualcredit: unfreeze amount must be non-negative")
	}
	if l.remotePendingDebt.Cmp(amount) < 0 {
		return ErrUnderflow
	}
	l.remotePendingDebt = new(big.Int).Sub(l.remotePendingDebt, amount)
	return nil
}

// CommitLocalToRemote pays the full frozen amount (`amount` plus `fee`)
// forward irreversibly: the balance moves by amount+fee and the matching
// local freeze is released in the same step. fee is also accumulated into
// outFees for observability, but it is not carried separately from balance:
// a mediator's fee revenue on its two legs nets out as balance growth on
// this ledger, exactly as CommitRemoteToLocal's matching pickup on the
// other leg nets out the other half.
func (l *Ledger) CommitLocalToRemote(amount, fee *big.Int) error {
	if !nonNegative(amount) || !nonNegative(fee) {
		return fmt.Errorf("mutualcredit: commit amount/fee must be non-negative")
	}
	total := new(big.Int).Add(amount, fee)
	if l.localPendingDebt.Cmp(total) < 0 {
		return ErrUnderflow
	}
	nextBalance := new(big.Int).Sub(l.balance, total)
	nextPending := new(big.Int).Sub(l.localPendingDebt, total)
	nextOutFees := new(big.Int).Add(l.outFees, fee)
	if nextOutFees.Cmp(currency.MaxU128()) > 0 {
		return ErrOverflow
	}
	l.balance = nextBalance
	l.localPendingDebt = nextPending
	l.outFees = nextOutFees
	return l.CheckInvariant()
}

// CommitRemoteToLocal receives the full frozen amount (`amount` plus `fee`)
// irreversibly: the balance moves by amount+fee and the matching remote
// freeze is released in the same step. See CommitLocalToRemote.
func (l *Ledger) CommitRemoteToLocal(amount, fee *big.Int) error {
	if !nonNegative(amount) || !nonNegative(fee) {
		return fmt.Errorf("mutualcredit: commit amount/fee must be non-negative")
	}
	total := new(big.Int).Add(amount, fee)
	if l.remotePendingDebt.Cmp(total) < 0 {
		return ErrUnderflow
	}
	nextBalance := new(big.Int).Add(l.balance, total)
	nextPending := new(big.Int).Sub(l.remotePendingDebt, total)
	nextInFees := new(big.Int).Add(l.inFees, fee)
	if nextInFees.Cmp(currency.MaxU128()) > 0 {
		return ErrOverflow
	}
	l.balance = nextBalance
	l.remotePendingDebt = nextPending
	l.inFees = nextInFees
	return l.CheckInvariant()
}

// InFees returns the cumulative fee component this ledger has received as
// part of a CommitRemoteToLocal, for observability; it is already reflected
// in Balance and is not subtracted out of it.
func (l *Ledger) InFees() *big.Int { return new(big.Int).Set(l.inFees) }

// OutFees returns the cumulative fee component this ledger has paid as part
// of a CommitLocalToRemote, for observability; it is already reflected in
// Balance and is not subtracted out of it.
func (l *Ledger) OutFees() *big.Int { return new(big.Int).Set(l.outFees) }
