package funder

import (
	"sync"
	"time"

	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/tokenchannel"
	"github.com/freedomlayer/offset/wire"
)

// friend is one counterparty's channel plus everything Funder needs to
// batch, send, and resend move tokens toward it. A friend never touches its
// own state without mu held: HandleInbound and the periodic flush loop both
// reach it from different goroutines.
type friend struct {
	mu sync.Mutex

	channel *tokenchannel.Channel

	// pendingOps holds operations queued by Enqueue, grouped by currency tag,
	// waiting for this side to hold the token.
	pendingOps  map[string][]wire.EncodedOperation
	pendingCurs []currency.Currency

	// pendingCurrenciesDiff holds currency tags queued by OpenCurrency or
	// CloseCurrency, to ride along on the next outbound move token exactly
	// like BuildMoveToken's currenciesDiff parameter expects.
	pendingCurrenciesDiff [][]byte

	// pendingRelaysDiff holds a queued SetFriendRelays update, similarly
	// riding the next outbound move token's relaysDiff field.
	pendingRelaysDiff [][]byte

	// name is operator-facing metadata (SetFriendName); it has no protocol
	// effect and is never sent on the wire.
	name string

	// enabled gates whether Enqueue accepts new operations for this friend;
	// EnableFriend/DisableFriend toggle it without touching the channel.
	enabled bool

	// rateOverrides holds per-currency mediator rates set via
	// SetFriendCurrencyRate, consulted before the Funder-wide RateTable.
	rateOverrides map[string]currency.Rate

	// tokenWanted is set when this side would like the token back once the
	// remote side is done with its own batch (spec.md's voluntary pass-back).
	tokenWanted bool

	// lastOutbound is the most recently sent FriendMessage bytes, retained
	// until the remote side moves the token again, so a transport failure
	// can retry the exact same bytes instead of rebuilding (which would
	// desynchronize moveTokenCounter from what was actually signed).
	lastOutbound []byte

	online bool
	queued time.Time
}

func newFriend(channel *tokenchannel.Channel) *friend {
	return &friend{
		channel:    channel,
		pendingOps: make(map[string][]wire.EncodedOperation),
		online:     true,
		enabled:    true,
	}
}

func (f *friend) queueLen() int {
	n := 0
	for _, ops := range f.pendingOps {
		n += len(ops)
	}
	return n
}

func (f *friend) enqueue(cur currency.Currency, op wire.EncodedOperation) {
	key := cur.String()
	if _, ok := f.pendingOps[key]; !ok {
		f.pendingCurs = append(f.pendingCurs, cur)
	}
	f.pendingOps[key] = append(f.pendingOps[key], op)
	if f.queued.IsZero() {
		f.queued = time.Now()
	}
}

func (f *friend) drainBatches() []tokenchannel.CurrencyBatch {
	batches := make([]tokenchannel.CurrencyBatch, 0, len(f.pendingCurs))
	for _, cur := range f.pendingCurs {
		batches = append(batches, tokenchannel.CurrencyBatch{Currency: cur, Operations: f.pendingOps[cur.String()]})
	}
	f.pendingOps = make(map[string][]wire.EncodedOperation)
	f.pendingCurs = nil
	f.queued = time.Time{}
	return batches
}

func (f *friend) drainCurrenciesDiff() [][]byte {
	diff := f.pendingCurrenciesDiff
	f.pendingCurrenciesDiff = nil
	return diff
}

func (f *friend) drainRelaysDiff() [][]byte {
	diff := f.pendingRelaysDiff
	f.pendingRelaysDiff = nil
	return diff
}
