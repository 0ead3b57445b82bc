package relay

import (
	"context"
	"testing"
	"time"

	"github.com/freedomlayer/offset/wire"
)

func TestFakeConnectRequiresListener(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if _, err := f.Connect(ctx, []byte("a"), []byte("b")); err == nil {
		t.Fatalf("expected connect to an absent listener to fail")
	}
}

func TestFakeConnectDeliversIncoming(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming, err := f.Listen(ctx, []byte("b"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	clientCh, err := f.Connect(ctx, []byte("a"), []byte("b"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case conn := <-incoming:
		if string(conn.PeerPub) != "a" {
			t.Fatalf("unexpected peer pub: %q", conn.PeerPub)
		}
		msg := wire.FriendMessage{Kind: wire.KindMoveTokenRequest, Payload: []byte("x")}
		if err := clientCh.Send(ctx, msg); err != nil {
			t.Fatalf("send: %v", err)
		}
		got, err := conn.Channel.Receive(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if string(got.Payload) != "x" {
			t.Fatalf("unexpected payload: %q", got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("incoming connection never arrived")
	}
}
