package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/freedomlayer/offset/transport"
)

// Fake is an in-memory Dialer: Connect succeeds only against a key that is
// currently Listening, and wires the two sides together with a
// transport.Loopback pair.
type Fake struct {
	mu        sync.Mutex
	listeners map[string]chan IncomingConnection
}

// NewFake constructs an empty Fake relay shared by every peer that Listens
// or Connects through it.
func NewFake() *Fake {
	return &Fake{listeners: make(map[string]chan IncomingConnection)}
}

func keyFor(pub []byte) string { return string(pub) }

func (f *Fake) Listen(ctx context.Context, localPub []byte) (<-chan IncomingConnection, error) {
	f.mu.Lock()
	ch := make(chan IncomingConnection, 8)
	f.listeners[keyFor(localPub)] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.listeners, keyFor(localPub))
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *Fake) Connect(ctx context.Context, localPub, peerPub []byte) (transport.Channel, error) {
	f.mu.Lock()
	ch, ok := f.listeners[keyFor(peerPub)]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("relay: connect to %x: %w", peerPub, ErrNotListening)
	}

	local, remote := transport.LoopbackPair(8)
	select {
	case ch <- IncomingConnection{PeerPub: localPub, Channel: remote}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return local, nil
}
