// Package transport defines the boundary between the core and whatever
// carries FriendMessages between two nodes (spec.md §6: "the core consumes
// an abstract Channel; how bytes actually reach the peer is out of scope").
// This package ships only a Channel interface plus a Loopback fake and a
// websocket-backed implementation; relay traversal and the encrypted
// handshake that produces an authenticated Channel live outside this
// module's scope.
package transport

import (
	"context"
	"errors"

	"github.com/freedomlayer/offset/wire"
)

// ErrClosed is returned by Send/Receive once Close has run.
var ErrClosed = errors.New("transport: channel closed")

// Channel is a single authenticated, ordered byte-pipe toward one friend.
// The core calls Send for every outbound FriendMessage and Receive in a
// loop to learn about inbound ones; Closed reports whether the underlying
// connection is still usable without blocking.
type Channel interface {
	Send(ctx context.Context, msg wire.FriendMessage) error
	Receive(ctx context.Context) (wire.FriendMessage, error)
	Closed() <-chan struct{}
	Close() error
}
