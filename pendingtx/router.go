package pendingtx

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/wire"
)

// ErrNotOnRoute is returned when this node's identity does not appear in an
// operation's advertised route.
var ErrNotOnRoute = errors.New("pendingtx: local identity not found on route")

// ErrNoLedger is returned when the resolver has no ledger for a friend and
// currency a routing decision needs.
var ErrNoLedger = errors.New("pendingtx: no ledger for friend/currency")

// FriendResolver gives the Router access to every other friend's
// per-currency ledger and outbound queue, without depending on the Funder
// package that owns them.
type FriendResolver interface {
	Ledger(peer []byte, cur currency.Currency) (*mutualcredit.Ledger, bool)
	Rate(peer []byte, cur currency.Currency) currency.Rate
	Enqueue(peer []byte, cur currency.Currency, op wire.EncodedOperation) error
}

// DestinationHandler is the seller/buyer-side PaymentEngine hooks the
// Router calls when this node is a payment's endpoint rather than a
// mediator.
type DestinationHandler interface {
	// ReceiveRequest is invoked when this node is the final hop of a route.
	// Returning an error cancels the payment instead of responding.
	ReceiveRequest(cur currency.Currency, op wire.RequestSendFundsOp) (wire.ResponseSendFundsOp, error)
	// ReceiveResponse delivers a destination's signed commitment back to
	// the buyer side that originated requestID.
	ReceiveResponse(requestID [16]byte, op wire.ResponseSendFundsOp)
	// ReceiveCancel notifies the buyer side that originated requestID that
	// the payment was cancelled somewhere along the route.
	ReceiveCancel(requestID [16]byte)
	// ReceiveCollect notifies the buyer side that originated requestID that
	// the payment has settled, revealing the source pre-image.
	ReceiveCollect(requestID [16]byte, srcPreimage [32]byte)
}

// ErrFeeExceedsBudget is returned when a mediator's own fee would exceed the
// leftFees budget still carried by an inbound Request.
var ErrFeeExceedsBudget = errors.New("pendingtx: mediator fee exceeds remaining fee budget")

// Router dispatches inbound TokenChannel operations according to this
// node's position on each payment's route: origin, mediator, or
// destination. It implements tokenchannel.OperationHandler structurally.
//
// Fee accounting follows the diminishing leftFees pool: the origin picks an
// initial fee budget and freezes destPayment+leftFees on its first hop.
// Each mediator computes its own fee from its rate toward its next hop, and
// if that fee exceeds the leftFees it received, cancels; otherwise it
// forwards with leftFees' = leftFees-fee and freezes destPayment+leftFees'
// on its own outgoing ledger. On Collect/Cancel, the amount released or
// committed on a hop's UPSTREAM ledger is destPayment+the leftFees value it
// received (UpstreamFee); on its DOWNSTREAM ledger it is
// destPayment+leftFees' (DownstreamFee). A mediator's actual revenue is the
// difference between the two, realized as balance moves in opposite
// directions on its two ledgers.
type Router struct {
	localPub *crypto.PublicKey
	table    *Table
	resolver FriendResolver
	dest     DestinationHandler
}

// NewRouter constructs a Router bound to this node's identity, its pending
// transaction table, and its collaborators.
func NewRouter(localPub *crypto.PublicKey, table *Table, resolver FriendResolver, dest DestinationHandler) *Router {
	return &Router{localPub: localPub, table: table, resolver: resolver, dest: dest}
}

// OriginateRequest freezes the first hop's credit and enqueues a fresh
// RequestSendFundsOp, returning the requestId assigned so the caller
// (PaymentEngine) can track it to completion. leftFees is the fee budget
// the caller is willing to see consumed by mediators along route; the
// origin does not compute or take a fee of its own.
func (r *Router) OriginateRequest(cur currency.Currency, route currency.FriendsRoute, destPayment, totalDestPayment, leftFees *big.Int, srcHashedLock, invoiceHash [32]byte, srcPreimage [32]byte) ([16]byte, error) {
	var requestID [16]byte
	if !bytes.Equal(route.Source(), r.localPub.Bytes()) {
		return requestID, fmt.Errorf("pendingtx: route does not originate at this node")
	}
	nextHop, ok := route.NextHop(r.localPub.Bytes())
	if !ok {
		return requestID, fmt.Errorf("pendingtx: route has no next hop")
	}
	ledger, ok := r.resolver.Ledger(nextHop, cur)
	if !ok {
		return requestID, ErrNoLedger
	}
	amount := new(big.Int).Add(destPayment, leftFees)
	if err := ledger.FreezeLocal(amount); err != nil {
		return requestID, err
	}

	idBytes, err := crypto.RandNonce(16)
	if err != nil {
		return requestID, err
	}
	copy(requestID[:], idBytes)

	preimage := srcPreimage
	entry := &Entry{
		RequestID:        requestID,
		Currency:         cur,
		Route:            route,
		DestPayment:      new(big.Int).Set(destPayment),
		TotalDestPayment: new(big.Int).Set(totalDestPayment),
		DownstreamFee:    new(big.Int).Set(leftFees),
		SrcHashedLock:    srcHashedLock,
		InvoiceHash:      invoiceHash,
		NextPeer:         append([]byte(nil), nextHop...),
		SrcPreimage:      &preimage,
		Stage:            AwaitingResponse,
	}
	if err := r.table.Insert(entry); err != nil {
		ledger.UnfreezeLocal(amount)
		return requestID, err
	}

	enc, err := wire.EncodeOperation(wire.OpRequestSendFunds, wire.RequestSendFundsOp{
		RequestID:        requestID,
		SrcHashedLock:    srcHashedLock,
		Route:            route.Hops(),
		DestPayment:      destPayment,
		TotalDestPayment: totalDestPayment,
		InvoiceHash:      invoiceHash,
		LeftFees:         leftFees,
	})
	if err != nil {
		return requestID, err
	}
	if err := r.resolver.Enqueue(nextHop, cur, enc); err != nil {
		return requestID, err
	}
	return requestID, nil
}

// HandleRequest implements tokenchannel.OperationHandler. ledger is the
// channel toward peer, the friend that forwarded this Request to us; the
// mirrored freeze it represents is applied here via FreezeRemote.
func (r *Router) HandleRequest(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.RequestSendFundsOp) error {
	upstreamAmount := new(big.Int).Add(op.DestPayment, op.LeftFees)
	if err := ledger.FreezeRemote(upstreamAmount); err != nil {
		return err
	}

	route, err := currency.NewFriendsRoute(op.Route)
	if err != nil {
		return err
	}
	idx := route.IndexOf(r.localPub.Bytes())
	if idx < 0 {
		return ErrNotOnRoute
	}

	if idx == route.Len()-1 {
		resp, err := r.dest.ReceiveRequest(cur, op)
		if err != nil {
			ledger.UnfreezeRemote(upstreamAmount)
			return r.sendCancel(peer, cur, op.RequestID)
		}
		entry := &Entry{
			RequestID:        op.RequestID,
			Currency:         cur,
			Route:            route,
			DestPayment:      op.DestPayment,
			TotalDestPayment: op.TotalDestPayment,
			UpstreamFee:      op.LeftFees,
			SrcHashedLock:    op.SrcHashedLock,
			InvoiceHash:      op.InvoiceHash,
			PrevPeer:         append([]byte(nil), peer...),
			DestHashedLock:   &resp.DestHashedLock,
			Stage:            AwaitingCollect,
		}
		if err := r.table.Insert(entry); err != nil {
			return err
		}
		enc, err := wire.EncodeOperation(wire.OpResponseSendFunds, resp)
		if err != nil {
			return err
		}
		return r.resolver.Enqueue(peer, cur, enc)
	}

	nextHop, _ := route.NextHop(r.localPub.Bytes())
	rate := r.resolver.Rate(nextHop, cur)
	if rate.IsInfinite() {
		ledger.UnfreezeRemote(upstreamAmount)
		return r.sendCancel(peer, cur, op.RequestID)
	}
	fee := rate.Apply(op.DestPayment)
	if fee.Cmp(op.LeftFees) > 0 {
		ledger.UnfreezeRemote(upstreamAmount)
		return r.sendCancel(peer, cur, op.RequestID)
	}
	leftFeesPrime := new(big.Int).Sub(op.LeftFees, fee)
	nextLedger, ok := r.resolver.Ledger(nextHop, cur)
	if !ok {
		ledger.UnfreezeRemote(upstreamAmount)
		return r.sendCancel(peer, cur, op.RequestID)
	}
	downstreamAmount := new(big.Int).Add(op.DestPayment, leftFeesPrime)
	if err := nextLedger.FreezeLocal(downstreamAmount); err != nil {
		ledger.UnfreezeRemote(upstreamAmount)
		return r.sendCancel(peer, cur, op.RequestID)
	}

	entry := &Entry{
		RequestID:        op.RequestID,
		Currency:         cur,
		Route:            route,
		DestPayment:      op.DestPayment,
		TotalDestPayment: op.TotalDestPayment,
		UpstreamFee:      op.LeftFees,
		DownstreamFee:    leftFeesPrime,
		SrcHashedLock:    op.SrcHashedLock,
		InvoiceHash:      op.InvoiceHash,
		PrevPeer:         append([]byte(nil), peer...),
		NextPeer:         append([]byte(nil), nextHop...),
		Stage:            AwaitingResponse,
	}
	if err := r.table.Insert(entry); err != nil {
		nextLedger.UnfreezeLocal(downstreamAmount)
		ledger.UnfreezeRemote(upstreamAmount)
		return err
	}

	fwd := op
	fwd.LeftFees = leftFeesPrime
	enc, err := wire.EncodeOperation(wire.OpRequestSendFunds, fwd)
	if err != nil {
		return err
	}
	return r.resolver.Enqueue(nextHop, cur, enc)
}

func (r *Router) sendCancel(peer []byte, cur currency.Currency, requestID [16]byte) error {
	enc, err := wire.EncodeOperation(wire.OpCancelSendFunds, wire.CancelSendFundsOp{RequestID: requestID})
	if err != nil {
		return err
	}
	return r.resolver.Enqueue(peer, cur, enc)
}

// ErrNotExpectingResponse is returned by HandleResponse for an entry that
// already moved past AwaitingResponse, mirroring the NotExpectingResponse
// rejection a duplicate or out-of-order Response draws in the original
// implementation this core was distilled from.
var ErrNotExpectingResponse = errors.New("pendingtx: entry is not awaiting a response")

// ErrInvalidResponseSignature is returned by HandleResponse when the
// destination signature over a ResponseSendFundsOp does not verify against
// the route's advertised destination public key.
var ErrInvalidResponseSignature = errors.New("pendingtx: invalid response signature")

// HandleResponse implements tokenchannel.OperationHandler: a Response never
// mutates a ledger, it only advances bookkeeping and forwards toward the
// origin. Every hop verifies the response signature against the route's
// destination public key before forwarding, not just the origin, so a
// mediator never relays a forged or corrupted Response further upstream.
func (r *Router) HandleResponse(peer []byte, cur currency.Currency, op wire.ResponseSendFundsOp) error {
	entry, err := r.table.Get(op.RequestID)
	if err != nil {
		return err
	}
	if entry.Stage != AwaitingResponse {
		return ErrNotExpectingResponse
	}

	destPub, err := crypto.PublicKeyFromBytes(entry.Route.Destination())
	if err != nil {
		return err
	}
	buf := wire.ResponseSignedBuffer(op.RequestID, op.RandNonce, entry.SrcHashedLock, op.DestHashedLock, entry.DestPayment, entry.TotalDestPayment, entry.InvoiceHash, entry.Currency)
	if !crypto.Verify(destPub, op.Signature, buf...) {
		return ErrInvalidResponseSignature
	}

	entry.DestHashedLock = &op.DestHashedLock
	entry.Stage = AwaitingCollect
	if entry.PrevPeer == nil {
		r.dest.ReceiveResponse(op.RequestID, op)
		return nil
	}
	enc, err := wire.EncodeOperation(wire.OpResponseSendFunds, op)
	if err != nil {
		return err
	}
	return r.resolver.Enqueue(entry.PrevPeer, entry.Currency, enc)
}

// ErrCancelAfterCollect is returned by HandleCancel when a Cancel arrives
// for a requestId this node already settled with a Collect: the two
// outcomes are mutually exclusive (spec.md's Response-is-matched-by-
// exactly-one-of-Cancel-or-Collect invariant), so a Cancel that shows up
// afterward means the two sides disagree about how the payment ended.
var ErrCancelAfterCollect = errors.New("pendingtx: cancel received for a request already settled by collect")

// HandleCancel implements tokenchannel.OperationHandler: it unwinds
// whichever side of this hop the cancel arrived from and, if this node is
// not the request's endpoint on that side, propagates the cancel further.
// A Cancel for a requestId with no entry is idempotent (already cancelled,
// or never seen) unless that requestId was already settled by a Collect,
// which is a protocol violation rather than a harmless replay.
func (r *Router) HandleCancel(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.CancelSendFundsOp) error {
	entry, err := r.table.Get(op.RequestID)
	if err != nil {
		if r.table.WasCollected(op.RequestID) {
			return ErrCancelAfterCollect
		}
		return nil // already cancelled, or never seen; cancel is idempotent
	}

	switch {
	case entry.NextPeer != nil && bytes.Equal(peer, entry.NextPeer):
		downstreamAmount := new(big.Int).Add(entry.DestPayment, entry.DownstreamFee)
		if err := ledger.UnfreezeLocal(downstreamAmount); err != nil {
			return err
		}
		r.table.Remove(op.RequestID)
		if entry.PrevPeer == nil {
			r.dest.ReceiveCancel(op.RequestID)
			return nil
		}
		prevLedger, ok := r.resolver.Ledger(entry.PrevPeer, entry.Currency)
		if !ok {
			return ErrNoLedger
		}
		upstreamAmount := new(big.Int).Add(entry.DestPayment, entry.UpstreamFee)
		if err := prevLedger.UnfreezeRemote(upstreamAmount); err != nil {
			return err
		}
		return r.sendCancel(entry.PrevPeer, entry.Currency, op.RequestID)
	case entry.PrevPeer != nil && bytes.Equal(peer, entry.PrevPeer):
		upstreamAmount := new(big.Int).Add(entry.DestPayment, entry.UpstreamFee)
		if err := ledger.UnfreezeRemote(upstreamAmount); err != nil {
			return err
		}
		r.table.Remove(op.RequestID)
		if entry.NextPeer == nil {
			return nil
		}
		nextLedger, ok := r.resolver.Ledger(entry.NextPeer, entry.Currency)
		if !ok {
			return ErrNoLedger
		}
		downstreamAmount := new(big.Int).Add(entry.DestPayment, entry.DownstreamFee)
		if err := nextLedger.UnfreezeLocal(downstreamAmount); err != nil {
			return err
		}
		return r.sendCancel(entry.NextPeer, entry.Currency, op.RequestID)
	default:
		return fmt.Errorf("pendingtx: cancel from unexpected peer for request")
	}
}

// HandleCollect implements tokenchannel.OperationHandler. Collect always
// travels from destination to origin: it arrives from entry.NextPeer,
// settles this hop's downstream leg, and — unless this node is the origin —
// settles the upstream leg too and forwards toward entry.PrevPeer. A
// Collect with no matching entry is a no-op (idempotent retry protection).
func (r *Router) HandleCollect(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, op wire.CollectSendFundsOp) error {
	entry, err := r.table.Get(op.RequestID)
	if err != nil {
		return nil
	}
	if entry.NextPeer == nil || !bytes.Equal(peer, entry.NextPeer) {
		return fmt.Errorf("pendingtx: collect from unexpected peer for request")
	}
	if crypto.Hash(op.SrcPlainLock[:]) != crypto.HashResult(entry.SrcHashedLock) {
		return fmt.Errorf("pendingtx: collect source pre-image does not match hashed lock")
	}
	if entry.DestHashedLock != nil && crypto.Hash(op.DestPlainLock[:]) != crypto.HashResult(*entry.DestHashedLock) {
		return fmt.Errorf("pendingtx: collect destination pre-image does not match hashed lock")
	}
	if err := ledger.CommitLocalToRemote(entry.DestPayment, entry.DownstreamFee); err != nil {
		return err
	}
	r.table.RemoveCollected(op.RequestID)

	if entry.PrevPeer == nil {
		if entry.SrcPreimage != nil {
			r.dest.ReceiveCollect(op.RequestID, *entry.SrcPreimage)
		}
		return nil
	}
	prevLedger, ok := r.resolver.Ledger(entry.PrevPeer, entry.Currency)
	if !ok {
		return ErrNoLedger
	}
	if err := prevLedger.CommitRemoteToLocal(entry.DestPayment, entry.UpstreamFee); err != nil {
		return err
	}
	return r.forwardCollect(entry.PrevPeer, entry.Currency, op)
}

func (r *Router) forwardCollect(peer []byte, cur currency.Currency, op wire.CollectSendFundsOp) error {
	enc, err := wire.EncodeOperation(wire.OpCollectSendFunds, op)
	if err != nil {
		return err
	}
	return r.resolver.Enqueue(peer, cur, enc)
}

// ErrNotOriginator is returned by AbandonOriginated when requestID exists
// but this node is not the hop that created it.
var ErrNotOriginator = errors.New("pendingtx: request was not originated by this node")

// AbandonOriginated lets the payment's buyer-side origin voluntarily give
// up on a Request before a Commit/Collect has closed the loop: it unfreezes
// the credit frozen in OriginateRequest and sends Cancel downstream, the
// same unwind HandleCancel performs when a Cancel arrives from the next
// hop, except here the node itself decides to abandon rather than
// reacting to a peer. A missing entry is treated as already resolved.
func (r *Router) AbandonOriginated(requestID [16]byte) error {
	entry, err := r.table.Get(requestID)
	if err != nil {
		return nil
	}
	if entry.PrevPeer != nil {
		return ErrNotOriginator
	}
	if entry.NextPeer == nil {
		return fmt.Errorf("pendingtx: originated request has no downstream hop to cancel")
	}

	nextLedger, ok := r.resolver.Ledger(entry.NextPeer, entry.Currency)
	if !ok {
		return ErrNoLedger
	}
	downstreamAmount := new(big.Int).Add(entry.DestPayment, entry.DownstreamFee)
	if err := nextLedger.UnfreezeLocal(downstreamAmount); err != nil {
		return err
	}
	r.table.Remove(requestID)
	return r.sendCancel(entry.NextPeer, entry.Currency, requestID)
}

// CancelAllFriendTransactions unwinds every in-flight entry with peer as
// its previous or next hop, without attempting to unfreeze or notify peer
// itself: a friend channel reset already clears that side's ledger, so only
// the other leg of each entry needs unwinding. Used when a friend's channel
// goes Inconsistent or a reset resolves (spec.md: a reset cancels backwards
// every pending transaction routed through that friend).
func (r *Router) CancelAllFriendTransactions(peer []byte) {
	for _, entry := range r.table.List() {
		switch {
		case entry.NextPeer != nil && bytes.Equal(entry.NextPeer, peer):
			r.table.Remove(entry.RequestID)
			if entry.PrevPeer == nil {
				r.dest.ReceiveCancel(entry.RequestID)
				continue
			}
			if prevLedger, ok := r.resolver.Ledger(entry.PrevPeer, entry.Currency); ok {
				prevLedger.UnfreezeRemote(new(big.Int).Add(entry.DestPayment, entry.UpstreamFee))
			}
			r.sendCancel(entry.PrevPeer, entry.Currency, entry.RequestID)
		case entry.PrevPeer != nil && bytes.Equal(entry.PrevPeer, peer):
			r.table.Remove(entry.RequestID)
			if entry.NextPeer == nil {
				continue
			}
			if nextLedger, ok := r.resolver.Ledger(entry.NextPeer, entry.Currency); ok {
				nextLedger.UnfreezeLocal(new(big.Int).Add(entry.DestPayment, entry.DownstreamFee))
			}
			r.sendCancel(entry.NextPeer, entry.Currency, entry.RequestID)
		}
	}
}

// SettleAsDestination is called by the seller-side PaymentEngine once a
// MultiCommit has validated against a matching Invoice, starting the
// Collect wave that sweeps backward from the destination to the origin,
// hop by hop, committing every frozen ledger along the way.
func (r *Router) SettleAsDestination(requestID [16]byte, srcPlainLock, destPlainLock [32]byte) error {
	entry, err := r.table.Get(requestID)
	if err != nil {
		return err
	}
	if entry.NextPeer != nil {
		return fmt.Errorf("pendingtx: request is not this node's destination")
	}
	if entry.PrevPeer == nil {
		return fmt.Errorf("pendingtx: request has no upstream to settle toward")
	}
	prevLedger, ok := r.resolver.Ledger(entry.PrevPeer, entry.Currency)
	if !ok {
		return ErrNoLedger
	}
	if err := prevLedger.CommitRemoteToLocal(entry.DestPayment, entry.UpstreamFee); err != nil {
		return err
	}
	r.table.RemoveCollected(requestID)
	return r.forwardCollect(entry.PrevPeer, entry.Currency, wire.CollectSendFundsOp{
		RequestID:     requestID,
		SrcPlainLock:  srcPlainLock,
		DestPlainLock: destPlainLock,
	})
}
