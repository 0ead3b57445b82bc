package transport

import (
	"context"
	"sync"

	"github.com/freedomlayer/offset/wire"
)

// Loopback is an in-memory Channel, used in tests and by any node that
// talks to a friend running in the same process instead of over a real
// transport.
type Loopback struct {
	out      chan wire.FriendMessage
	in       chan wire.FriendMessage
	closed   chan struct{}
	closeMu  sync.Mutex
	didClose bool
}

// LoopbackPair returns two ends of the same in-memory pipe: messages sent
// on a arrive on b's Receive, and vice versa.
func LoopbackPair(bufferSize int) (a, b *Loopback) {
	ab := make(chan wire.FriendMessage, bufferSize)
	ba := make(chan wire.FriendMessage, bufferSize)
	a = &Loopback{out: ab, in: ba, closed: make(chan struct{})}
	b = &Loopback{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (l *Loopback) Send(ctx context.Context, msg wire.FriendMessage) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	select {
	case l.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrClosed
	}
}

func (l *Loopback) Receive(ctx context.Context) (wire.FriendMessage, error) {
	select {
	case msg := <-l.in:
		return msg, nil
	case <-ctx.Done():
		return wire.FriendMessage{}, ctx.Err()
	case <-l.closed:
		return wire.FriendMessage{}, ErrClosed
	}
}

func (l *Loopback) Closed() <-chan struct{} { return l.closed }

func (l *Loopback) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.didClose {
		return nil
	}
	l.didClose = true
	close(l.closed)
	return nil
}
