// Package payment implements PaymentEngine's buyer and seller halves on top
// of a pendingtx.Router. The seller issues Responses against open Invoices
// and, once it holds a valid MultiCommit, sweeps Collect backward through
// the Router to settle every matched transaction. The buyer drives Payments
// forward through CreateTransaction, composes a MultiCommit once enough
// Responses have landed, and turns each resulting Collect into a Receipt.
package payment

import (
	"sync"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/pendingtx"
)

// Engine is one node's PaymentEngine: the seller-side invoice book and the
// buyer-side payment book, both driven by the same pendingtx.Router.
type Engine struct {
	mu       sync.Mutex
	localKey *crypto.PrivateKey
	router   *pendingtx.Router
	kdfCost  int

	invoices        map[uuid.UUID]*Invoice
	invoiceByHash   map[[32]byte]uuid.UUID
	sellerResponses map[[16]byte]*sellerResponse

	payments    map[uuid.UUID]*Payment
	requestRefs map[[16]byte]txRef
}

// txRef locates a Transaction from the requestId carried by an inbound
// Response/Cancel/Collect, since the Router only ever hands back that much.
type txRef struct {
	paymentID uuid.UUID
	uid       uuid.UUID
}

// New constructs an Engine bound to the local signing key. The caller must
// call BindRouter before using it: Router and Engine refer to each other
// (Router calls into Engine as its DestinationHandler, Engine calls back
// into Router to originate and settle transactions), so construction is
// necessarily two-step. kdfCost of 0 uses crypto.DefaultKDFCost.
func New(localKey *crypto.PrivateKey, kdfCost int) *Engine {
	return &Engine{
		localKey:        localKey,
		kdfCost:         kdfCost,
		invoices:        make(map[uuid.UUID]*Invoice),
		invoiceByHash:   make(map[[32]byte]uuid.UUID),
		sellerResponses: make(map[[16]byte]*sellerResponse),
		payments:        make(map[uuid.UUID]*Payment),
		requestRefs:     make(map[[16]byte]txRef),
	}
}

// BindRouter attaches the Router this Engine originates and settles
// transactions through.
func (e *Engine) BindRouter(router *pendingtx.Router) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.router = router
}
