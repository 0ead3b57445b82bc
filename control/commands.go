// Package control implements the application-facing command surface
// (spec.md §6): typed mutations the host process feeds into Funder and
// PaymentEngine, each acknowledged through an events.Emitter tagged with
// the command's own request-id.
package control

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/currency"
)

// Command is the tagged union of every application-facing mutation
// Dispatch accepts. Each variant below implements it by embedding base,
// which carries the RequestID.
type Command interface {
	requestID() uuid.UUID
}

// base carries the application-request-id every command is acknowledged
// against (spec.md §6).
type base struct {
	RequestID uuid.UUID
}

func (b base) requestID() uuid.UUID { return b.RequestID }

// AddFriend opens a fresh TokenChannel toward RemotePub.
type AddFriend struct {
	base
	RemotePub []byte
}

// RemoveFriend drops a friend's channel and any queued, unsent operations.
type RemoveFriend struct {
	base
	Peer []byte
}

// SetFriendName records operator-facing metadata for Peer.
type SetFriendName struct {
	base
	Peer []byte
	Name string
}

// SetFriendRelays queues a new relay list for Peer.
type SetFriendRelays struct {
	base
	Peer   []byte
	Relays [][]byte
}

// SetFriendCurrencyRate overrides the mediator fee charged to Peer for Cur.
type SetFriendCurrencyRate struct {
	base
	Peer     []byte
	Currency currency.Currency
	RateMul  uint32
	RateAdd  uint32
}

// SetFriendCurrencyMaxDebt raises or lowers the credit extended to Peer in
// Currency.
type SetFriendCurrencyMaxDebt struct {
	base
	Peer     []byte
	Currency currency.Currency
	MaxDebt  *big.Int
}

// OpenFriendCurrency activates Currency on the channel toward Peer.
type OpenFriendCurrency struct {
	base
	Peer     []byte
	Currency currency.Currency
}

// CloseFriendCurrency deactivates Currency on the channel toward Peer.
type CloseFriendCurrency struct {
	base
	Peer     []byte
	Currency currency.Currency
}

// RemoveFriendCurrency is CloseFriendCurrency under its spec.md §6 name.
type RemoveFriendCurrency struct {
	base
	Peer     []byte
	Currency currency.Currency
}

// EnableFriend resumes accepting new queued operations for Peer.
type EnableFriend struct {
	base
	Peer []byte
}

// DisableFriend pauses Enqueue for Peer.
type DisableFriend struct {
	base
	Peer []byte
}

// ResetFriendChannel administratively forces Peer's channel into a reset
// negotiation.
type ResetFriendChannel struct {
	base
	Peer []byte
}

// AddInvoice opens a new seller-side invoice.
type AddInvoice struct {
	base
	InvoiceID        uuid.UUID
	Currency         currency.Currency
	TotalDestPayment *big.Int
}

// CancelInvoice moves an open invoice to Cancelled.
type CancelInvoice struct {
	base
	InvoiceID uuid.UUID
}

// CommitInvoiceCmd delivers a buyer's MultiCommit to the seller-side
// invoice book (named with a Cmd suffix to avoid colliding with
// payment.CommitInvoice).
type CommitInvoiceCmd struct {
	base
	InvoiceID uuid.UUID
	Commits   []CommitArg
}

// CommitArg is one revealed preimage within a CommitInvoiceCmd.
type CommitArg struct {
	RequestID    [16]byte
	SrcPlainLock [32]byte
	Signature    [65]byte
}

// CreatePayment allocates a buyer-side in-progress payment.
type CreatePayment struct {
	base
	PaymentID        uuid.UUID
	InvoiceID        uuid.UUID
	Currency         currency.Currency
	TotalDestPayment *big.Int
	DestPublicKey    []byte
}

// CreateTransaction originates a fresh Request along Route.
type CreateTransaction struct {
	base
	PaymentID   uuid.UUID
	Route       [][]byte
	DestPayment *big.Int
	LeftFees    *big.Int
}

// RequestClosePayment polls a resolved Payment for its outcome.
type RequestClosePayment struct {
	base
	PaymentID uuid.UUID
}

// AckClosePayment permits garbage collection of a resolved Payment.
type AckClosePayment struct {
	base
	PaymentID uuid.UUID
	AckUID    uuid.UUID
}

// NewRequestID mints a fresh application-request-id for a Command the
// caller hasn't already assigned one to.
func NewRequestID() uuid.UUID { return uuid.New() }
