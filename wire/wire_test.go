package wire

import (
	"bytes"
	"math/big"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello friend")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestSignedBigIntRoundTrip(t *testing.T) {
	for _, v := range []*big.Int{big.NewInt(0), big.NewInt(42), big.NewInt(-42)} {
		enc := NewSignedBigInt(v)
		if enc.Int().Cmp(v) != 0 {
			t.Fatalf("expected round-trip of %s, got %s", v, enc.Int())
		}
	}
}

func TestOperationEncodeDecodeRoundTrip(t *testing.T) {
	want := RequestSendFundsOp{
		DestPayment:      big.NewInt(100),
		TotalDestPayment: big.NewInt(100),
		LeftFees:         big.NewInt(2),
		Route:            [][]byte{{1}, {2}, {3}},
	}
	want.RequestID[0] = 0xAB
	enc, err := EncodeOperation(OpRequestSendFunds, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRequestSendFunds(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DestPayment.Cmp(want.DestPayment) != 0 || got.RequestID != want.RequestID {
		t.Fatalf("expected round-tripped op to match, got %+v", got)
	}
}

func TestFriendMessageRoundTrip(t *testing.T) {
	mt := MoveToken{MoveTokenCounter: big.NewInt(0)}
	req := MoveTokenRequest{MoveToken: mt, TokenWanted: true}
	msg, err := EncodeMoveTokenRequest(req)
	if err != nil {
		t.Fatalf("encode move token request: %v", err)
	}
	marshaled, err := MarshalFriendMessage(msg)
	if err != nil {
		t.Fatalf("marshal friend message: %v", err)
	}
	unmarshaled, err := UnmarshalFriendMessage(marshaled)
	if err != nil {
		t.Fatalf("unmarshal friend message: %v", err)
	}
	decoded, err := DecodeMoveTokenRequest(unmarshaled)
	if err != nil {
		t.Fatalf("decode move token request: %v", err)
	}
	if decoded.TokenWanted != true {
		t.Fatalf("expected tokenWanted to round-trip true")
	}
}

func TestMoveTokenSignedBufferDeterministic(t *testing.T) {
	mt := MoveToken{MoveTokenCounter: big.NewInt(5)}
	a, err := mt.SignedBuffer()
	if err != nil {
		t.Fatalf("signed buffer: %v", err)
	}
	b, err := mt.SignedBuffer()
	if err != nil {
		t.Fatalf("signed buffer: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic signed buffer encoding")
	}
}
