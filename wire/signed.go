package wire

import "math/big"

// SignedBigInt is a wire-safe encoding of a signed i128 balance. The
// go-ethereum RLP codec refuses to encode negative *big.Int values
// directly, so balances travel as an explicit sign flag plus an unsigned
// magnitude.
type SignedBigInt struct {
	Neg bool
	Abs *big.Int
}

// NewSignedBigInt wraps a signed value for the wire.
func NewSignedBigInt(v *big.Int) SignedBigInt {
	if v == nil {
		return SignedBigInt{Abs: big.NewInt(0)}
	}
	if v.Sign() < 0 {
		return SignedBigInt{Neg: true, Abs: new(big.Int).Neg(v)}
	}
	return SignedBigInt{Abs: new(big.Int).Set(v)}
}

// Int recovers the signed value.
func (s SignedBigInt) Int() *big.Int {
	abs := s.Abs
	if abs == nil {
		abs = big.NewInt(0)
	}
	if s.Neg {
		return new(big.Int).Neg(abs)
	}
	return new(big.Int).Set(abs)
}
