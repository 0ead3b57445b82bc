package payment

import (
	"math/big"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
)

// Receipt is a self-contained proof that a Transaction settled: every field
// a verifier needs is carried inline, so verification never requires
// contacting the network again.
type Receipt struct {
	RequestID        [16]byte
	InvoiceHash      [32]byte
	Currency         currency.Currency
	SrcHashedLock    [32]byte
	DestHashedLock   [32]byte
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	RandNonce        [32]byte
	Signature        [65]byte
}

// Verify checks a Receipt's signature against the claimed destination
// public key, reconstructing exactly the buffer the destination signed when
// it issued the original Response.
func (r Receipt) Verify(destPublicKey *crypto.PublicKey) bool {
	buf := responseSignedBuffer(r.RequestID, r.RandNonce, r.SrcHashedLock, r.DestHashedLock, r.DestPayment, r.TotalDestPayment, r.InvoiceHash, r.Currency)
	return crypto.Verify(destPublicKey, r.Signature, buf...)
}
