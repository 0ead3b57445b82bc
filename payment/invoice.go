package payment

import (
	"errors"
	"math/big"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/wire"
)

// InvoiceStatus is an Invoice's lifecycle stage.
type InvoiceStatus int

const (
	InvoiceOpen InvoiceStatus = iota
	InvoiceCommitted
	InvoiceCancelled
)

// Invoice is the seller side of a payment: a target amount to collect under
// one invoiceId, closed either by a valid MultiCommit or by cancellation.
type Invoice struct {
	InvoiceID        uuid.UUID
	Currency         currency.Currency
	TotalDestPayment *big.Int
	Collected        *big.Int
	Status           InvoiceStatus
}

// sellerResponse is everything this node, as destination, remembers about a
// Response it issued, needed later to validate and settle a MultiCommit.
type sellerResponse struct {
	invoiceID        uuid.UUID
	destPayment      *big.Int
	totalDestPayment *big.Int
	srcHashedLock    [32]byte
	destPlainLock    [32]byte
	destHashedLock   [32]byte
	randNonce        [32]byte
	signature        [65]byte
}

var (
	// ErrInvoiceExists is returned by AddInvoice for a duplicate invoiceId.
	ErrInvoiceExists = errors.New("payment: invoice already exists")
	// ErrInvoiceNotFound is returned when an invoiceId has no open invoice.
	ErrInvoiceNotFound = errors.New("payment: invoice not found")
	// ErrInvoiceNotOpen is returned by CommitInvoice/CancelInvoice once an
	// invoice has already resolved.
	ErrInvoiceNotOpen = errors.New("payment: invoice is not open")
	// ErrCommitInvalid is returned by CommitInvoice when any part of a
	// MultiCommit fails validation; the invoice is left untouched.
	ErrCommitInvalid = errors.New("payment: multi-commit failed validation")
)

// invoiceHash is the value advertised on the wire as a Request's
// invoiceHash; destinations look up the matching Invoice by this, never by
// the raw invoiceId, since invoiceId itself is never put on the wire.
func invoiceHash(id uuid.UUID) [32]byte {
	return crypto.Hash(id[:])
}

// AddInvoice opens a new invoice for totalDestPayment units of cur.
func (e *Engine) AddInvoice(invoiceID uuid.UUID, cur currency.Currency, totalDestPayment *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.invoices[invoiceID]; ok {
		return ErrInvoiceExists
	}
	inv := &Invoice{
		InvoiceID:        invoiceID,
		Currency:         cur,
		TotalDestPayment: new(big.Int).Set(totalDestPayment),
		Collected:        big.NewInt(0),
		Status:           InvoiceOpen,
	}
	e.invoices[invoiceID] = inv
	e.invoiceByHash[invoiceHash(invoiceID)] = invoiceID
	return nil
}

// CancelInvoice moves an open invoice to Cancelled; any Request matching it
// afterward is rejected (the Router cancels it upstream).
func (e *Engine) CancelInvoice(invoiceID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status != InvoiceOpen {
		return ErrInvoiceNotOpen
	}
	inv.Status = InvoiceCancelled
	return nil
}

// Invoice returns a snapshot of an invoice's current state.
func (e *Engine) Invoice(invoiceID uuid.UUID) (Invoice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.invoices[invoiceID]
	if !ok {
		return Invoice{}, false
	}
	return *inv, true
}

// ReceiveRequest implements pendingtx.DestinationHandler's seller half: it
// matches an inbound Request against an open Invoice by invoiceHash and, if
// it fits under the invoice's remaining total, issues a signed Response.
func (e *Engine) ReceiveRequest(cur currency.Currency, op wire.RequestSendFundsOp) (wire.ResponseSendFundsOp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	invoiceID, ok := e.invoiceByHash[op.InvoiceHash]
	if !ok {
		return wire.ResponseSendFundsOp{}, ErrInvoiceNotFound
	}
	inv := e.invoices[invoiceID]
	if inv.Status != InvoiceOpen || !inv.Currency.Equal(cur) {
		return wire.ResponseSendFundsOp{}, ErrInvoiceNotOpen
	}
	projected := new(big.Int).Add(inv.Collected, op.DestPayment)
	if projected.Cmp(inv.TotalDestPayment) > 0 {
		return wire.ResponseSendFundsOp{}, errors.New("payment: request exceeds invoice's remaining total")
	}

	secret, err := crypto.RandNonce(32)
	if err != nil {
		return wire.ResponseSendFundsOp{}, err
	}
	destPlainLock, destHashedLock, err := crypto.DeriveLock(secret, e.kdfCost)
	if err != nil {
		return wire.ResponseSendFundsOp{}, err
	}
	randNonceBytes, err := crypto.RandNonce(32)
	if err != nil {
		return wire.ResponseSendFundsOp{}, err
	}
	var randNonce [32]byte
	copy(randNonce[:], randNonceBytes)

	buf := responseSignedBuffer(op.RequestID, randNonce, op.SrcHashedLock, [32]byte(destHashedLock), op.DestPayment, op.TotalDestPayment, op.InvoiceHash, cur)
	sig, err := crypto.Sign(e.localKey, buf...)
	if err != nil {
		return wire.ResponseSendFundsOp{}, err
	}

	inv.Collected = projected
	e.sellerResponses[op.RequestID] = &sellerResponse{
		invoiceID:        invoiceID,
		destPayment:      new(big.Int).Set(op.DestPayment),
		totalDestPayment: new(big.Int).Set(op.TotalDestPayment),
		srcHashedLock:    op.SrcHashedLock,
		destPlainLock:    [32]byte(destPlainLock),
		destHashedLock:   [32]byte(destHashedLock),
		randNonce:        randNonce,
		signature:        sig,
	}

	return wire.ResponseSendFundsOp{
		RequestID:      op.RequestID,
		RandNonce:      randNonce,
		DestHashedLock: [32]byte(destHashedLock),
		Signature:      sig,
	}, nil
}

// Commit is one buyer-revealed preimage within a MultiCommit, replaying the
// matching Response's own signature as proof that the revealed preimage is
// bound to that specific Response rather than forged or reused elsewhere.
type Commit struct {
	RequestID    [16]byte
	SrcPlainLock [32]byte
	Signature    [65]byte
}

// MultiCommit is the buyer's out-of-band delivery of every preimage needed
// to settle one invoice's worth of transactions in one shot.
type MultiCommit struct {
	InvoiceID uuid.UUID
	Commits   []Commit
}

// CommitInvoice validates mc against the Responses this node remembers
// issuing and, if every check passes, sweeps Collect backward through the
// Router for each matched transaction and closes the invoice.
func (e *Engine) CommitInvoice(mc MultiCommit) error {
	e.mu.Lock()
	inv, ok := e.invoices[mc.InvoiceID]
	if !ok {
		e.mu.Unlock()
		return ErrInvoiceNotFound
	}
	if inv.Status != InvoiceOpen {
		e.mu.Unlock()
		return ErrInvoiceNotOpen
	}

	sum := big.NewInt(0)
	resolved := make([]*sellerResponse, len(mc.Commits))
	for i, c := range mc.Commits {
		resp, ok := e.sellerResponses[c.RequestID]
		if !ok || resp.invoiceID != mc.InvoiceID {
			e.mu.Unlock()
			return ErrCommitInvalid
		}
		if crypto.Hash(c.SrcPlainLock[:]) != crypto.HashResult(resp.srcHashedLock) {
			e.mu.Unlock()
			return ErrCommitInvalid
		}
		buf := responseSignedBuffer(c.RequestID, resp.randNonce, resp.srcHashedLock, resp.destHashedLock, resp.destPayment, resp.totalDestPayment, invoiceHash(mc.InvoiceID), inv.Currency)
		if !crypto.Verify(e.localKey.PubKey(), c.Signature, buf...) {
			e.mu.Unlock()
			return ErrCommitInvalid
		}
		resolved[i] = resp
		sum.Add(sum, resp.destPayment)
	}
	if sum.Cmp(inv.TotalDestPayment) != 0 {
		e.mu.Unlock()
		return ErrCommitInvalid
	}

	inv.Status = InvoiceCommitted
	e.mu.Unlock()

	for i, c := range mc.Commits {
		resp := resolved[i]
		if err := e.router.SettleAsDestination(c.RequestID, c.SrcPlainLock, resp.destPlainLock); err != nil {
			return err
		}
		e.mu.Lock()
		delete(e.sellerResponses, c.RequestID)
		e.mu.Unlock()
	}
	return nil
}

// responseSignedBuffer builds the exact sequence of fields the Response and
// Commit signatures cover (wire.ResponseSignedBuffer): "FUNDS_RESPONSE" ||
// hash(requestId || randNonce) || srcHashedLock || destHashedLock ||
// destPayment || totalDestPayment || invoiceHash || currency. It is
// defined in wire, not here, so pendingtx.Router can also call it to
// verify a Response's destination signature at every mediator hop.
func responseSignedBuffer(requestID [16]byte, randNonce, srcHashedLock, destHashedLock [32]byte, destPayment, totalDestPayment *big.Int, invHash [32]byte, cur currency.Currency) [][]byte {
	return wire.ResponseSignedBuffer(requestID, randNonce, srcHashedLock, destHashedLock, destPayment, totalDestPayment, invHash, cur)
}
