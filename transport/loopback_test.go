package transport

import (
	"context"
	"testing"
	"time"

	"github.com/freedomlayer/offset/wire"
)

func TestLoopbackPairDeliversBothWays(t *testing.T) {
	a, b := LoopbackPair(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg := wire.FriendMessage{Kind: wire.KindInconsistencyError, Payload: []byte("hi")}
	if err := a.Send(ctx, msg); err != nil {
		t.Fatalf("send a->b: %v", err)
	}
	got, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("receive on b: %v", err)
	}
	if got.Kind != msg.Kind || string(got.Payload) != string(msg.Payload) {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestLoopbackCloseUnblocksReceive(t *testing.T) {
	a, b := LoopbackPair(1)
	_ = a
	done := make(chan error, 1)
	go func() {
		_, err := b.Receive(context.Background())
		done <- err
	}()
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("receive did not unblock after close")
	}
}

func TestLoopbackSendAfterCloseFails(t *testing.T) {
	a, _ := LoopbackPair(1)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Send(context.Background(), wire.FriendMessage{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
