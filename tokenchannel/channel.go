// Package tokenchannel implements the per-friend TokenChannel state machine:
// the single mutable move-token that alternates direction between two
// friends, the per-currency MutualCredit ledgers it carries, and the
// reception algorithm that keeps both sides' views bit-for-bit identical or
// declares the channel inconsistent.
package tokenchannel

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/wire"
)

// Direction records which side currently holds the move-token and may
// extend it with a new batch of operations.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

var (
	// ErrNotOutgoing is returned when the local side tries to build a new
	// move-token while it does not hold the token.
	ErrNotOutgoing = errors.New("tokenchannel: local side does not hold the token")
	// ErrBadOldToken is returned when an inbound MoveToken's OldToken does
	// not match the last token this side observed.
	ErrBadOldToken = errors.New("tokenchannel: old token does not match")
	// ErrBadSignature is returned when an inbound MoveToken's signature does
	// not verify against the sender's known public key.
	ErrBadSignature = errors.New("tokenchannel: signature verification failed")
	// ErrBadInfoHash is returned when the infoHash recomputed after applying
	// a MoveToken's operations does not match the claimed infoHash.
	ErrBadInfoHash = errors.New("tokenchannel: info hash mismatch after applying operations")
	// ErrUnknownCurrency is returned when an operation names a currency not
	// present in activeCurrencies and not being added by currenciesDiff.
	ErrUnknownCurrency = errors.New("tokenchannel: unknown currency")
	// ErrInconsistent marks a channel that has detected a state mismatch and
	// must go through reset negotiation before resuming.
	ErrInconsistent = errors.New("tokenchannel: channel is inconsistent")
)

// OperationHandler performs the MutualCredit mutation for operations whose
// effect depends on locally-stored pending-transaction state (Request,
// Cancel, Collect, Response). The ledger passed is always this channel's
// ledger for the operation's currency; the handler applies the "remote"
// mirror of whatever the sender applied locally, since every operation
// arriving in an inbound MoveToken represents an action the sender already
// took on its own side.
// peer is always the identity of the friend that sent the enclosing
// MoveToken; cur is the currency the operation's ledger belongs to.
type OperationHandler interface {
	HandleRequest(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.RequestSendFundsOp) error
	HandleResponse(peer []byte, cur currency.Currency, op wire.ResponseSendFundsOp) error
	HandleCancel(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.CancelSendFundsOp) error
	HandleCollect(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.CollectSendFundsOp) error
}

// Channel is one friend's TokenChannel: the move-token, its counters, and
// the per-currency ledgers it governs.
type Channel struct {
	localPub  *crypto.PublicKey
	remotePub *crypto.PublicKey

	direction            Direction
	lastToken            [65]byte
	moveTokenCounter     *big.Int
	inconsistencyCounter uint64

	ledgers          map[string]*mutualcredit.Ledger
	activeCurrencies []currency.Currency
	localRelays      [][]byte
}

// New constructs a fresh TokenChannel for a newly established friendship.
// The side whose public key is lexicographically smaller starts Outgoing,
// so both sides derive the same initial direction without negotiation.
func New(localPub, remotePub *crypto.PublicKey) *Channel {
	dir := Incoming
	if localPub.Less(remotePub) {
		dir = Outgoing
	}
	return &Channel{
		localPub:         localPub,
		remotePub:        remotePub,
		direction:        dir,
		lastToken:        initialToken(localPub, remotePub),
		moveTokenCounter: big.NewInt(0),
		ledgers:          make(map[string]*mutualcredit.Ledger),
	}
}

// initialToken derives the deterministic zero-state token both sides agree
// on without any signature: a hash of both public keys in a canonical
// (smaller-first) order, so either side computes the same 65 bytes padded
// with a zero recovery byte.
func initialToken(a, b *crypto.PublicKey) [65]byte {
	first, second := a.Bytes(), b.Bytes()
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}
	digest := crypto.Hash(first, second)
	var tok [65]byte
	copy(tok[:32], digest[:])
	copy(tok[32:64], digest[:])
	return tok
}

// Direction reports which side currently holds the token.
func (c *Channel) Direction() Direction { return c.direction }

// MoveTokenCounter returns the number of move-tokens applied so far.
func (c *Channel) MoveTokenCounter() *big.Int { return new(big.Int).Set(c.moveTokenCounter) }

// InconsistencyCounter returns the current reset-negotiation round number.
func (c *Channel) InconsistencyCounter() uint64 { return c.inconsistencyCounter }

// LastToken returns the 65-byte token this side currently regards as valid.
func (c *Channel) LastToken() [65]byte { return c.lastToken }

// Ledger returns the MutualCredit ledger for cur, creating it (inactive,
// zero balance) if this is the first time the currency is seen.
func (c *Channel) Ledger(cur currency.Currency) *mutualcredit.Ledger {
	key := cur.String()
	l, ok := c.ledgers[key]
	if !ok {
		l = mutualcredit.New()
		c.ledgers[key] = l
	}
	return l
}

// ActiveCurrencies returns the ordered set of currencies with an active
// ledger on this channel.
func (c *Channel) ActiveCurrencies() []currency.Currency {
	out := make([]currency.Currency, len(c.activeCurrencies))
	copy(out, c.activeCurrencies)
	return out
}

func (c *Channel) activate(cur currency.Currency) {
	for _, existing := range c.activeCurrencies {
		if existing.Equal(cur) {
			return
		}
	}
	c.activeCurrencies = append(c.activeCurrencies, cur)
	sort.Slice(c.activeCurrencies, func(i, j int) bool {
		return c.activeCurrencies[i].Less(c.activeCurrencies[j])
	})
}

func (c *Channel) deactivate(cur currency.Currency) {
	delete(c.ledgers, cur.String())
	for i, existing := range c.activeCurrencies {
		if existing.Equal(cur) {
			c.activeCurrencies = append(c.activeCurrencies[:i], c.activeCurrencies[i+1:]...)
			return
		}
	}
}

// SetLocalRelays updates the relay addresses this side advertises to the
// friend; the next outbound move-token will carry the diff.
func (c *Channel) SetLocalRelays(relays [][]byte) {
	c.localRelays = relays
}

// computeInfoHash hashes the channel's observable state: every active
// currency's balance and debt caps, the move-token counter, and the
// inconsistency counter, in activeCurrencies' canonical order.
//
// A channel's two sides each store this state from their own point of view
// (balance negated, localMaxDebt/remoteMaxDebt swapped relative to the
// other side's copy of the same ledger), so hashing the raw local fields
// would never agree between them. canonicalPerspective reorders each
// currency's fields into the view of whichever side's public key sorts
// lower, a fixed reference both sides can independently reconstruct, so the
// hash matches regardless of which side currently holds the token.
func (c *Channel) computeInfoHash() crypto.HashResult {
	fromLowerKey := bytes.Compare(c.localPub.Bytes(), c.remotePub.Bytes()) < 0

	bufs := make([][]byte, 0, len(c.activeCurrencies)*4+2)
	for _, cur := range c.activeCurrencies {
		l := c.ledgers[cur.String()]
		balance := wire.NewSignedBigInt(l.Balance()).Int()
		localMax, remoteMax := l.LocalMaxDebt(), l.RemoteMaxDebt()
		if !fromLowerKey {
			balance = new(big.Int).Neg(balance)
			localMax, remoteMax = remoteMax, localMax
		}
		bufs = append(bufs, cur.Bytes(), balance.Bytes(), localMax.Bytes(), remoteMax.Bytes())
	}
	bufs = append(bufs, c.moveTokenCounter.Bytes(), new(big.Int).SetUint64(c.inconsistencyCounter).Bytes())
	return crypto.Hash(bufs...)
}
