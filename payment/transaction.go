package payment

import (
	"errors"
	"math/big"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/wire"
)

// TxState is a buyer-side Transaction's lifecycle stage.
type TxState int

const (
	TxSent TxState = iota
	TxResponded
	TxCancelled
	TxCollected
)

// Transaction is one route attempt toward a Payment's destination: its own
// requestId, the credit it asked mediators to freeze, and whatever the
// destination and route have told this node back about it.
type Transaction struct {
	RequestID     [16]byte
	Route         currency.FriendsRoute
	DestPayment   *big.Int
	LeftFees      *big.Int
	State         TxState
	SrcPreimage   [32]byte
	SrcHashedLock [32]byte

	DestHashedLock *[32]byte
	ResponseSig    *[65]byte
	RandNonce      *[32]byte
	Receipt        *Receipt
}

// PaymentStatus is a buyer-side Payment's lifecycle stage.
type PaymentStatus int

const (
	PaymentInProgress PaymentStatus = iota
	PaymentSuccess
	PaymentCancelled
	PaymentNotFound
)

// Payment is the buyer side of an invoice: every Transaction attempted
// toward covering its totalDestPayment, and the aggregate outcome.
type Payment struct {
	PaymentID        uuid.UUID
	InvoiceID        uuid.UUID
	Currency         currency.Currency
	TotalDestPayment *big.Int
	DestPublicKey    *crypto.PublicKey
	Transactions     map[uuid.UUID]*Transaction
	Status           PaymentStatus
	AckUID           *uuid.UUID
	Receipts         []Receipt
}

var (
	// ErrPaymentExists is returned by CreatePayment for a duplicate id.
	ErrPaymentExists = errors.New("payment: payment already exists")
	// ErrPaymentNotFound is returned by CreateTransaction/RequestClosePayment
	// for an unknown paymentId.
	ErrPaymentNotFound = errors.New("payment: payment not found")
	// ErrPaymentNotInProgress is returned by CreateTransaction once a
	// Payment has already resolved.
	ErrPaymentNotInProgress = errors.New("payment: payment is not in progress")
	// ErrPaymentNotReady is returned by RequestClosePayment while a Payment
	// is still InProgress.
	ErrPaymentNotReady = errors.New("payment: payment has not resolved yet")
)

// CreatePayment allocates an in-progress Payment toward destPublicKey for
// invoiceID, covering totalDestPayment units of cur.
func (e *Engine) CreatePayment(paymentID, invoiceID uuid.UUID, cur currency.Currency, totalDestPayment *big.Int, destPublicKey *crypto.PublicKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.payments[paymentID]; ok {
		return ErrPaymentExists
	}
	e.payments[paymentID] = &Payment{
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		Currency:         cur,
		TotalDestPayment: new(big.Int).Set(totalDestPayment),
		DestPublicKey:    destPublicKey,
		Transactions:     make(map[uuid.UUID]*Transaction),
		Status:           PaymentInProgress,
	}
	return nil
}

// CreateTransaction originates a fresh Request along route toward
// paymentID's destination, asking mediators to forward it under a leftFees
// budget. The returned uid identifies the Transaction within the Payment.
func (e *Engine) CreateTransaction(paymentID uuid.UUID, route currency.FriendsRoute, destPayment, leftFees *big.Int) (uuid.UUID, error) {
	e.mu.Lock()
	pay, ok := e.payments[paymentID]
	if !ok {
		e.mu.Unlock()
		return uuid.UUID{}, ErrPaymentNotFound
	}
	if pay.Status != PaymentInProgress {
		e.mu.Unlock()
		return uuid.UUID{}, ErrPaymentNotInProgress
	}
	e.mu.Unlock()

	secret, err := crypto.RandNonce(32)
	if err != nil {
		return uuid.UUID{}, err
	}
	var srcPreimage [32]byte
	copy(srcPreimage[:], secret)
	srcHashedLock := crypto.Hash(srcPreimage[:])

	requestID, err := e.router.OriginateRequest(pay.Currency, route, destPayment, pay.TotalDestPayment, leftFees, [32]byte(srcHashedLock), invoiceHash(pay.InvoiceID), srcPreimage)
	if err != nil {
		return uuid.UUID{}, err
	}

	uid := uuid.New()
	e.mu.Lock()
	pay.Transactions[uid] = &Transaction{
		RequestID:     requestID,
		Route:         route,
		DestPayment:   new(big.Int).Set(destPayment),
		LeftFees:      new(big.Int).Set(leftFees),
		State:         TxSent,
		SrcPreimage:   srcPreimage,
		SrcHashedLock: [32]byte(srcHashedLock),
	}
	e.requestRefs[requestID] = txRef{paymentID: paymentID, uid: uid}
	e.mu.Unlock()
	return uid, nil
}

// AbandonPayment lets the buyer voluntarily give up on paymentID before a
// MultiCommit has settled it, e.g. after a crash and payment_ttl has
// passed with no Commit sent: every transaction still short of Collected
// sends Cancel downstream through the Router, unfreezing the credit this
// node froze in CreateTransaction. Transactions already Cancelled or
// Collected are left alone, and the Payment moves to Cancelled only once
// every one of its transactions is Cancelled.
func (e *Engine) AbandonPayment(paymentID uuid.UUID) error {
	e.mu.Lock()
	pay, ok := e.payments[paymentID]
	if !ok {
		e.mu.Unlock()
		return ErrPaymentNotFound
	}
	if pay.Status != PaymentInProgress {
		e.mu.Unlock()
		return ErrPaymentNotInProgress
	}
	var toAbandon []*Transaction
	for _, t := range pay.Transactions {
		if t.State == TxSent || t.State == TxResponded {
			toAbandon = append(toAbandon, t)
		}
	}
	e.mu.Unlock()

	for _, t := range toAbandon {
		if err := e.router.AbandonOriginated(t.RequestID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range toAbandon {
		delete(e.requestRefs, t.RequestID)
		t.State = TxCancelled
	}
	if allResolved(pay) {
		pay.Status = PaymentCancelled
	}
	return nil
}

// ReceiveResponse implements pendingtx.DestinationHandler's buyer half: it
// verifies the destination's signature against the Transaction this node
// remembers originating and, if valid, records the revealed destHashedLock.
func (e *Engine) ReceiveResponse(requestID [16]byte, op wire.ResponseSendFundsOp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, tx := e.lookupTx(requestID)
	if pay == nil || tx == nil || tx.State != TxSent {
		return
	}
	buf := responseSignedBuffer(requestID, op.RandNonce, tx.SrcHashedLock, op.DestHashedLock, tx.DestPayment, pay.TotalDestPayment, invoiceHash(pay.InvoiceID), pay.Currency)
	if !crypto.Verify(pay.DestPublicKey, op.Signature, buf...) {
		return
	}
	tx.State = TxResponded
	tx.DestHashedLock = &op.DestHashedLock
	sig := op.Signature
	tx.ResponseSig = &sig
	nonce := op.RandNonce
	tx.RandNonce = &nonce
}

// ReceiveCancel implements pendingtx.DestinationHandler's buyer half.
func (e *Engine) ReceiveCancel(requestID [16]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, tx := e.lookupTx(requestID)
	if pay == nil || tx == nil {
		return
	}
	delete(e.requestRefs, requestID)
	tx.State = TxCancelled
	if allResolved(pay) {
		pay.Status = PaymentCancelled
	}
}

// ReceiveCollect implements pendingtx.DestinationHandler's buyer half: it
// turns the revealed srcPreimage, already known locally, plus the stored
// Response fields into a self-contained Receipt.
func (e *Engine) ReceiveCollect(requestID [16]byte, srcPreimage [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, tx := e.lookupTx(requestID)
	if pay == nil || tx == nil || tx.DestHashedLock == nil || tx.ResponseSig == nil || tx.RandNonce == nil {
		return
	}
	delete(e.requestRefs, requestID)
	tx.State = TxCollected
	tx.Receipt = &Receipt{
		RequestID:        requestID,
		InvoiceHash:      invoiceHash(pay.InvoiceID),
		Currency:         pay.Currency,
		SrcHashedLock:    tx.SrcHashedLock,
		DestHashedLock:   *tx.DestHashedLock,
		DestPayment:      new(big.Int).Set(tx.DestPayment),
		TotalDestPayment: new(big.Int).Set(pay.TotalDestPayment),
		RandNonce:        *tx.RandNonce,
		Signature:        *tx.ResponseSig,
	}
	if allCollected(pay) {
		pay.Status = PaymentSuccess
		pay.Receipts = pay.Receipts[:0]
		for _, t := range pay.Transactions {
			pay.Receipts = append(pay.Receipts, *t.Receipt)
		}
	}
}

func (e *Engine) lookupTx(requestID [16]byte) (*Payment, *Transaction) {
	ref, ok := e.requestRefs[requestID]
	if !ok {
		return nil, nil
	}
	pay, ok := e.payments[ref.paymentID]
	if !ok {
		return nil, nil
	}
	tx, ok := pay.Transactions[ref.uid]
	if !ok {
		return nil, nil
	}
	return pay, tx
}

func allResolved(pay *Payment) bool {
	for _, t := range pay.Transactions {
		if t.State != TxCancelled {
			return false
		}
	}
	return len(pay.Transactions) > 0
}

func allCollected(pay *Payment) bool {
	for _, t := range pay.Transactions {
		if t.State != TxCollected {
			return false
		}
	}
	return len(pay.Transactions) > 0
}

// BuildMultiCommit composes a MultiCommit covering every Responded
// transaction once their destPayment sums to the Payment's total,
// revealing each transaction's srcPreimage and replaying its Response
// signature for the seller to validate.
func (e *Engine) BuildMultiCommit(paymentID uuid.UUID) (MultiCommit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, ok := e.payments[paymentID]
	if !ok {
		return MultiCommit{}, ErrPaymentNotFound
	}
	sum := big.NewInt(0)
	var commits []Commit
	for _, t := range pay.Transactions {
		if t.State != TxResponded {
			continue
		}
		sum.Add(sum, t.DestPayment)
		commits = append(commits, Commit{RequestID: t.RequestID, SrcPlainLock: t.SrcPreimage, Signature: *t.ResponseSig})
	}
	if sum.Cmp(pay.TotalDestPayment) != 0 {
		return MultiCommit{}, errors.New("payment: responded transactions do not yet cover the payment's total")
	}
	return MultiCommit{InvoiceID: pay.InvoiceID, Commits: commits}, nil
}

// PaymentResult is RequestClosePayment's snapshot of a resolved Payment.
type PaymentResult struct {
	Status   PaymentStatus
	Receipts []Receipt
	AckUID   uuid.UUID
}

// RequestClosePayment polls paymentID: once it has resolved (Success or
// Cancelled) it mints an ackUid and returns the result, otherwise
// ErrPaymentNotReady. The caller must eventually call AckClosePayment with
// the returned ackUid to permit garbage collection.
func (e *Engine) RequestClosePayment(paymentID uuid.UUID) (PaymentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, ok := e.payments[paymentID]
	if !ok {
		return PaymentResult{}, ErrPaymentNotFound
	}
	if pay.Status == PaymentInProgress {
		return PaymentResult{}, ErrPaymentNotReady
	}
	if pay.AckUID == nil {
		ack := uuid.New()
		pay.AckUID = &ack
	}
	return PaymentResult{Status: pay.Status, Receipts: append([]Receipt(nil), pay.Receipts...), AckUID: *pay.AckUID}, nil
}

// AckClosePayment removes a resolved Payment once the application has
// durably recorded its outcome, keyed on the ackUid RequestClosePayment
// minted so a replayed ack for the wrong generation is rejected.
func (e *Engine) AckClosePayment(paymentID, ackUID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pay, ok := e.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if pay.AckUID == nil || *pay.AckUID != ackUID {
		return errors.New("payment: ack uid does not match outstanding close request")
	}
	delete(e.payments, paymentID)
	return nil
}
