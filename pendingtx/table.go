// Package pendingtx tracks in-flight hash-locked payments as they cross
// this node — the PendingTransactions table — and implements the Router
// that decides, for each inbound operation, whether this node is the
// payment's origin, a mediator, or its destination.
package pendingtx

import (
	"container/list"
	"errors"
	"math/big"
	"sync"

	"github.com/freedomlayer/offset/currency"
)

// collectedCapacity bounds how many settled requestIds Table remembers
// purely to reject a late, out-of-order Cancel as a protocol violation
// rather than silently ignoring it. Older entries age out once the table
// has seen this many more collects; a requestId survives long enough to
// catch any Cancel that was merely reordered with the Collect that settled
// it, not forever.
const collectedCapacity = 4096

// ErrNotFound is returned when a requestId has no matching pending
// transaction.
var ErrNotFound = errors.New("pendingtx: request id not found")

// ErrAlreadyExists is returned when Insert is called with a requestId
// already tracked.
var ErrAlreadyExists = errors.New("pendingtx: request id already exists")

// Stage tracks where an in-flight entry sits in the Request/Response/Collect
// lifecycle, independent of this node's position (origin/mediator/
// destination) on the route. HandleResponse uses it to reject a Response for
// an entry that has already been responded to, the way the stage guard the
// original request this core was distilled from enforces before forwarding.
type Stage int

const (
	// AwaitingResponse is an entry's stage from the moment a Request is
	// inserted (by OriginateRequest or HandleRequest) until a matching
	// Response has been verified.
	AwaitingResponse Stage = iota
	// AwaitingCollect is an entry's stage once a verified Response has been
	// recorded, until a Collect or Cancel removes it.
	AwaitingCollect
)

// Entry is one in-flight transaction's bookkeeping: everything this node
// needs to unwind (Cancel) or settle (Collect) it later, since the wire
// operations themselves carry only the requestId and lock material.
type Entry struct {
	RequestID        [16]byte
	Currency         currency.Currency
	Route            currency.FriendsRoute
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	SrcHashedLock    [32]byte
	DestHashedLock   *[32]byte
	InvoiceHash      [32]byte
	Stage            Stage

	// UpstreamFee is the fee component frozen on the ledger toward
	// PrevPeer (nil when this node originated the request: there is no
	// upstream leg).
	UpstreamFee *big.Int
	// DownstreamFee is the fee component frozen on the ledger toward
	// NextPeer (nil when this node is the request's destination: there is
	// no downstream leg).
	DownstreamFee *big.Int

	// PrevPeer is nil when this node originated the request.
	PrevPeer []byte
	// NextPeer is nil when this node is the request's destination.
	NextPeer []byte

	// SrcPreimage is known only at the origin, kept until Collect closes
	// the loop back.
	SrcPreimage *[32]byte
}

// Table is the thread-safe requestId-indexed store of in-flight
// transactions this node is a party to, either as origin, mediator, or
// destination.
type Table struct {
	mu      sync.Mutex
	entries map[[16]byte]*Entry

	collected      map[[16]byte]*list.Element
	collectedOrder *list.List
}

// NewTable constructs an empty table.
func NewTable() *Table {
	return &Table{
		entries:        make(map[[16]byte]*Entry),
		collected:      make(map[[16]byte]*list.Element),
		collectedOrder: list.New(),
	}
}

// Insert adds a new in-flight entry.
func (t *Table) Insert(e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[e.RequestID]; ok {
		return ErrAlreadyExists
	}
	t.entries[e.RequestID] = e
	return nil
}

// Get looks up an entry by requestId.
func (t *Table) Get(id [16]byte) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Remove deletes an entry once it has been cancelled. Use RemoveCollected
// for an entry settled by a Collect, so a later stray Cancel for the same
// requestId can still be told apart from one that simply never existed.
func (t *Table) Remove(id [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// RemoveCollected deletes an entry settled by a Collect and remembers its
// requestId, within collectedCapacity, so WasCollected can later tell a
// protocol-violating Cancel-after-Collect apart from a Cancel for an
// already-cancelled or never-seen requestId.
func (t *Table) RemoveCollected(id [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
	if _, exists := t.collected[id]; exists {
		return
	}
	for t.collectedOrder.Len() >= collectedCapacity {
		front := t.collectedOrder.Front()
		if front == nil {
			break
		}
		t.collectedOrder.Remove(front)
		delete(t.collected, front.Value.([16]byte))
	}
	elem := t.collectedOrder.PushBack(id)
	t.collected[id] = elem
}

// WasCollected reports whether requestId was recently settled by
// RemoveCollected, for as long as it remains within collectedCapacity of
// the most recent collect.
func (t *Table) WasCollected(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.collected[id]
	return ok
}

// List returns a snapshot of every in-flight entry, for liveness scans and
// persistence checkpoints.
func (t *Table) List() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
