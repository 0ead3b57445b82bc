// Package relay stands in for the relay-transport collaborator (spec.md
// §6: "a per-connection TCP multiplexer providing an encrypted bidirectional
// stream between two friends"). It is explicitly out of scope to implement
// for real; this package ships only the Dialer interface the core consumes
// and an in-memory fake for tests.
package relay

import (
	"context"
	"errors"

	"github.com/freedomlayer/offset/transport"
)

// ErrNotListening is returned by Connect when no Listen call is pending for
// the given public key.
var ErrNotListening = errors.New("relay: not listening")

// IncomingConnection notifies a listener that peerPub initiated a
// connection and handed over ch.
type IncomingConnection struct {
	PeerPub []byte
	Channel transport.Channel
}

// Dialer is the relay collaborator's single operation set (spec.md §6):
// one side Listens and receives IncomingConnections, the other Connects
// to a specific peer.
type Dialer interface {
	// Listen registers localPub as reachable and returns a channel of
	// IncomingConnections until ctx is cancelled.
	Listen(ctx context.Context, localPub []byte) (<-chan IncomingConnection, error)
	// Connect dials peerPub, who must already be Listening.
	Connect(ctx context.Context, localPub, peerPub []byte) (transport.Channel, error)
}
