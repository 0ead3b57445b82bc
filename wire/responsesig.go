package wire

import (
	"math/big"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
)

// ResponseAmountWidth is the fixed width each amount field occupies in
// ResponseSignedBuffer. Two adjacent variable-length big.Int encodings
// would otherwise let a byte migrate from one field to the next without
// changing the concatenated buffer (destPayment=0x01, totalDestPayment=
// 0x0001 encodes identically to destPayment=0x0100, totalDestPayment=0x01);
// fixed-width right-aligned encoding removes that ambiguity. 32 bytes
// comfortably covers every amount this core represents.
const ResponseAmountWidth = 32

func fixedAmountBytes(v *big.Int) []byte {
	buf := make([]byte, ResponseAmountWidth)
	return v.FillBytes(buf)
}

// ResponseSignedBuffer builds the exact sequence of fields a Response and
// its later Commit replay both sign: "FUNDS_RESPONSE" || hash(requestId ||
// randNonce) || srcHashedLock || destHashedLock || destPayment ||
// totalDestPayment || invoiceHash || currency. It lives here, rather than
// in the payment package that issues the signature, so pendingtx.Router
// can also call it to verify a Response's destination signature at every
// mediator hop without creating an import cycle back into payment.
func ResponseSignedBuffer(requestID [16]byte, randNonce, srcHashedLock, destHashedLock [32]byte, destPayment, totalDestPayment *big.Int, invHash [32]byte, cur currency.Currency) [][]byte {
	inner := crypto.Hash(requestID[:], randNonce[:])
	return [][]byte{
		[]byte("FUNDS_RESPONSE"),
		inner[:],
		srcHashedLock[:],
		destHashedLock[:],
		fixedAmountBytes(destPayment),
		fixedAmountBytes(totalDestPayment),
		invHash[:],
		cur.Bytes(),
	}
}
