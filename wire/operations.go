// Package wire defines the friend-to-friend wire format: the tagged
// operation variants a MoveToken batches, the MoveToken and ResetTerms
// messages themselves, and the FriendMessage envelope, all encoded with
// go-ethereum's RLP codec for deterministic, order-preserving bytes.
package wire

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// OpKind tags which TokenChannel operation an EncodedOperation carries.
type OpKind uint8

const (
	OpRequestSendFunds OpKind = iota
	OpResponseSendFunds
	OpCancelSendFunds
	OpCollectSendFunds
	OpSetRemoteMaxDebt
	OpEnableRequests
	OpDisableRequests
)

// EncodedOperation is the RLP-level tagged union member: a kind byte plus
// the RLP encoding of the matching concrete operation struct.
type EncodedOperation struct {
	Kind    OpKind
	Payload []byte
}

// EncodeOperation wraps a concrete operation struct into its tagged wire
// form.
func EncodeOperation(kind OpKind, op interface{}) (EncodedOperation, error) {
	payload, err := rlp.EncodeToBytes(op)
	if err != nil {
		return EncodedOperation{}, fmt.Errorf("wire: encode operation kind %d: %w", kind, err)
	}
	return EncodedOperation{Kind: kind, Payload: payload}, nil
}

// RequestSendFundsOp opens a pending transaction along route, freezing
// destPayment+leftFees at every hop as it is forwarded.
type RequestSendFundsOp struct {
	RequestID        [16]byte
	SrcHashedLock    [32]byte
	Route            [][]byte
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	InvoiceHash      [32]byte
	LeftFees         *big.Int
}

// ResponseSendFundsOp is the destination's signed commitment to a
// RequestSendFundsOp, carrying the destination's half of the hash-lock.
type ResponseSendFundsOp struct {
	RequestID      [16]byte
	RandNonce      [32]byte
	DestHashedLock [32]byte
	Signature      [65]byte
}

// CancelSendFundsOp unwinds a pending transaction's frozen credits at every
// hop without moving any balance.
type CancelSendFundsOp struct {
	RequestID [16]byte
}

// CollectSendFundsOp reveals both hash-lock pre-images and sweeps the
// committed payment back along the route, paying credits at each hop.
type CollectSendFundsOp struct {
	RequestID    [16]byte
	SrcPlainLock [32]byte
	DestPlainLock [32]byte
}

// SetRemoteMaxDebtOp raises or lowers the debt ceiling extended to the
// remote side on the enclosing currency.
type SetRemoteMaxDebtOp struct {
	Value *big.Int
}

// EnableRequestsOp reopens the local side for new outgoing requests on the
// enclosing currency.
type EnableRequestsOp struct{}

// DisableRequestsOp closes the local side to new outgoing requests on the
// enclosing currency; in-flight requests are unaffected.
type DisableRequestsOp struct{}

// DecodeRequestSendFunds unwraps an EncodedOperation of kind
// OpRequestSendFunds.
func DecodeRequestSendFunds(enc EncodedOperation) (RequestSendFundsOp, error) {
	var op RequestSendFundsOp
	if enc.Kind != OpRequestSendFunds {
		return op, fmt.Errorf("wire: expected OpRequestSendFunds, got %d", enc.Kind)
	}
	err := rlp.DecodeBytes(enc.Payload, &op)
	return op, err
}

// DecodeResponseSendFunds unwraps an EncodedOperation of kind
// OpResponseSendFunds.
func DecodeResponseSendFunds(enc EncodedOperation) (ResponseSendFundsOp, error) {
	var op ResponseSendFundsOp
	if enc.Kind != OpResponseSendFunds {
		return op, fmt.Errorf("wire: expected OpResponseSendFunds, got %d", enc.Kind)
	}
	err := rlp.DecodeBytes(enc.Payload, &op)
	return op, err
}

// DecodeCancelSendFunds unwraps an EncodedOperation of kind
// OpCancelSendFunds.
func DecodeCancelSendFunds(enc EncodedOperation) (CancelSendFundsOp, error) {
	var op CancelSendFundsOp
	if enc.Kind != OpCancelSendFunds {
		return op, fmt.Errorf("wire: expected OpCancelSendFunds, got %d", enc.Kind)
	}
	err := rlp.DecodeBytes(enc.Payload, &op)
	return op, err
}

// DecodeCollectSendFunds unwraps an EncodedOperation of kind
// OpCollectSendFunds.
func DecodeCollectSendFunds(enc EncodedOperation) (CollectSendFundsOp, error) {
	var op CollectSendFundsOp
	if enc.Kind != OpCollectSendFunds {
		return op, fmt.Errorf("wire: expected OpCollectSendFunds, got %d", enc.Kind)
	}
	err := rlp.DecodeBytes(enc.Payload, &op)
	return op, err
}

// DecodeSetRemoteMaxDebt unwraps an EncodedOperation of kind
// OpSetRemoteMaxDebt.
func DecodeSetRemoteMaxDebt(enc EncodedOperation) (SetRemoteMaxDebtOp, error) {
	var op SetRemoteMaxDebtOp
	if enc.Kind != OpSetRemoteMaxDebt {
		return op, fmt.Errorf("wire: expected OpSetRemoteMaxDebt, got %d", enc.Kind)
	}
	err := rlp.DecodeBytes(enc.Payload, &op)
	return op, err
}
