package wire

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// CurrencyOps batches one currency's operations within a single MoveToken,
// matching spec.md's `currenciesOperations: [(currency, [op])]`.
type CurrencyOps struct {
	Currency   []byte
	Operations []EncodedOperation
}

// MoveToken is the one-way message that carries a batch of operations and
// advances the token (spec.md §4.3). NewToken is populated by BuildMoveToken
// and is not part of the material the signature itself covers.
type MoveToken struct {
	OldToken             [65]byte
	CurrenciesOperations []CurrencyOps
	CurrenciesDiff       [][]byte
	RelaysDiff           [][]byte
	InfoHash             [32]byte
	MoveTokenCounter     *big.Int
	NewToken             [65]byte
}

// SignedBuffer returns the exact byte sequence BuildMoveToken signs:
// every field preceding NewToken, plus the post-increment counter, in wire
// order. Both signer and verifier must reconstruct this identically.
func (m *MoveToken) SignedBuffer() ([]byte, error) {
	unsigned := struct {
		OldToken             [65]byte
		CurrenciesOperations []CurrencyOps
		CurrenciesDiff       [][]byte
		RelaysDiff           [][]byte
		InfoHash             [32]byte
		NextCounter          *big.Int
	}{
		OldToken:             m.OldToken,
		CurrenciesOperations: m.CurrenciesOperations,
		CurrenciesDiff:       m.CurrenciesDiff,
		RelaysDiff:           m.RelaysDiff,
		InfoHash:             m.InfoHash,
		NextCounter:          new(big.Int).Add(m.MoveTokenCounter, big.NewInt(1)),
	}
	buf, err := rlp.EncodeToBytes(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("wire: encode move-token signed buffer: %w", err)
	}
	return buf, nil
}

// ResetTerms is the signed proposal emitted by either side of a friendship
// once it detects an inconsistency (spec.md §4.3).
type ResetTerms struct {
	ResetToken           [65]byte
	InconsistencyCounter uint64
	BalanceForReset      []CurrencyBalance
}

// CurrencyBalance pairs a currency with the signed balance a ResetTerms
// proposal expects that currency's ledger to land on.
type CurrencyBalance struct {
	Currency []byte
	Balance  SignedBigInt
}

// SignedBuffer returns the byte sequence a ResetTerms' ResetToken signs:
// the literal tag "RESET", the counter, and the balances.
func (r *ResetTerms) SignedBuffer() ([]byte, error) {
	unsigned := struct {
		Tag             []byte
		Counter         uint64
		BalanceForReset []CurrencyBalance
	}{
		Tag:             []byte("RESET"),
		Counter:         r.InconsistencyCounter,
		BalanceForReset: r.BalanceForReset,
	}
	buf, err := rlp.EncodeToBytes(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("wire: encode reset-terms signed buffer: %w", err)
	}
	return buf, nil
}

// FriendMessageKind tags a FriendMessage's payload.
type FriendMessageKind uint8

const (
	KindMoveTokenRequest FriendMessageKind = iota
	KindInconsistencyError
)

// MoveTokenRequest carries a MoveToken and whether the sender wants the
// token back once the recipient is done with its own batch.
type MoveTokenRequest struct {
	MoveToken   MoveToken
	TokenWanted bool
}

// FriendMessage is the union wrapping everything sent over the encrypted
// channel between two friends (spec.md §6).
type FriendMessage struct {
	Kind    FriendMessageKind
	Payload []byte
}

// EncodeMoveTokenRequest wraps a MoveTokenRequest into a FriendMessage.
func EncodeMoveTokenRequest(req MoveTokenRequest) (FriendMessage, error) {
	payload, err := rlp.EncodeToBytes(&req)
	if err != nil {
		return FriendMessage{}, fmt.Errorf("wire: encode move-token request: %w", err)
	}
	return FriendMessage{Kind: KindMoveTokenRequest, Payload: payload}, nil
}

// EncodeInconsistencyError wraps a ResetTerms into a FriendMessage.
func EncodeInconsistencyError(terms ResetTerms) (FriendMessage, error) {
	payload, err := rlp.EncodeToBytes(&terms)
	if err != nil {
		return FriendMessage{}, fmt.Errorf("wire: encode inconsistency error: %w", err)
	}
	return FriendMessage{Kind: KindInconsistencyError, Payload: payload}, nil
}

// DecodeMoveTokenRequest unwraps a FriendMessage of kind
// KindMoveTokenRequest.
func DecodeMoveTokenRequest(msg FriendMessage) (MoveTokenRequest, error) {
	var req MoveTokenRequest
	if msg.Kind != KindMoveTokenRequest {
		return req, fmt.Errorf("wire: expected KindMoveTokenRequest, got %d", msg.Kind)
	}
	err := rlp.DecodeBytes(msg.Payload, &req)
	return req, err
}

// DecodeInconsistencyError unwraps a FriendMessage of kind
// KindInconsistencyError.
func DecodeInconsistencyError(msg FriendMessage) (ResetTerms, error) {
	var terms ResetTerms
	if msg.Kind != KindInconsistencyError {
		return terms, fmt.Errorf("wire: expected KindInconsistencyError, got %d", msg.Kind)
	}
	err := rlp.DecodeBytes(msg.Payload, &terms)
	return terms, err
}

// MarshalFriendMessage encodes a FriendMessage to its final on-wire bytes,
// ready for WriteFrame.
func MarshalFriendMessage(msg FriendMessage) ([]byte, error) {
	return rlp.EncodeToBytes(&msg)
}

// UnmarshalFriendMessage decodes bytes produced by MarshalFriendMessage.
func UnmarshalFriendMessage(b []byte) (FriendMessage, error) {
	var msg FriendMessage
	err := rlp.DecodeBytes(b, &msg)
	return msg, err
}
