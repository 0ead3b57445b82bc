// Package indexclient stands in for the index-server federation
// collaborator (spec.md §6: "the core emits periodic summaries ... and
// accepts route-request replies"). Route discovery across the federation
// is explicitly out of scope; this package ships only the Client interface
// and an in-memory fake.
package indexclient

import (
	"context"
	"math/big"

	"github.com/freedomlayer/offset/currency"
)

// CapacitySummary is one friend/currency's advertised send/receive
// capacity and mediator rate, published periodically.
type CapacitySummary struct {
	Friend       []byte
	Currency     currency.Currency
	SendCapacity *big.Int
	RecvCapacity *big.Int
	Rate         currency.Rate
}

// RouteRequest asks the index for a path able to move at least MinCapacity
// of Currency toward Dest.
type RouteRequest struct {
	Dest        []byte
	Currency    currency.Currency
	MinCapacity *big.Int
}

// RouteReply answers a RouteRequest. A nil Route means no path was found;
// callers must tolerate stale routes (spec.md §6) and fall back to Cancel.
type RouteReply struct {
	Route    [][]byte
	Capacity *big.Int
}

// Client is the index-server collaborator's operation set: summaries are
// produced, route replies are consumed.
type Client interface {
	PublishSummaries(ctx context.Context, summaries []CapacitySummary) error
	RequestRoute(ctx context.Context, req RouteRequest) (RouteReply, error)
}
