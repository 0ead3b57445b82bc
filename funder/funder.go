// Package funder owns every friend's TokenChannel and the outbound queue
// feeding it: batching operations Router/PaymentEngine enqueue into move
// tokens, sending them through an abstract transport, and handling inbound
// move tokens and inconsistency proposals as they arrive.
package funder

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/observability/logging"
	"github.com/freedomlayer/offset/tokenchannel"
	"github.com/freedomlayer/offset/wire"
)

// ErrUnknownFriend is returned for any per-friend operation naming a peer
// this Funder has no channel with.
var ErrUnknownFriend = errors.New("funder: unknown friend")

// ErrFriendExists is returned by AddFriend when the peer is already known.
var ErrFriendExists = errors.New("funder: friend already exists")

// ErrFriendDisabled is returned by Enqueue for a friend DisableFriend has
// administratively paused.
var ErrFriendDisabled = errors.New("funder: friend is disabled")

// Sender delivers an outbound FriendMessage to peer over whichever secure
// transport the node is running; Funder treats it as an opaque collaborator.
type Sender interface {
	Send(ctx context.Context, peer []byte, msg wire.FriendMessage) error
}

// FriendTransactionCanceler lets an OperationHandler also unwind any
// in-flight transactions routed through a friend whose channel just went
// inconsistent or was reset. pendingtx.Router implements this; Funder
// checks for it with a type assertion so it stays free of any direct
// dependency on pendingtx.
type FriendTransactionCanceler interface {
	CancelAllFriendTransactions(peer []byte)
}

// RateTable resolves the mediator fee this node charges a given peer for a
// given currency, configured outside Funder (operator policy).
type RateTable interface {
	Rate(peer []byte, cur currency.Currency) currency.Rate
}

// defaultFlushInterval bounds how long an operation can sit queued before
// Funder builds and sends a move token for it even below maxBatchOps.
const defaultFlushInterval = 200 * time.Millisecond

// defaultMaxBatchOps triggers an immediate flush once a friend's queue grows
// this large, instead of waiting for the next tick.
const defaultMaxBatchOps = 64

// Funder holds every friend's channel and queue. It implements
// pendingtx.FriendResolver structurally, and its HandleRequest/Response/
// Cancel/Collect delegation target is supplied by the caller (normally a
// pendingtx.Router) so Funder itself stays free of payment semantics.
type Funder struct {
	mu       sync.RWMutex
	localKey *crypto.PrivateKey
	friends  map[string]*friend
	sender   Sender
	rates    RateTable
	log      *slog.Logger

	maxBatchOps   int
	flushInterval time.Duration
	metrics       *funderMetrics
}

// New constructs a Funder for the local identity, sending through sender and
// pricing mediation through rates.
func New(localKey *crypto.PrivateKey, sender Sender, rates RateTable, log *slog.Logger) *Funder {
	if log == nil {
		log = logging.SetupNode(os.Getenv("OFFSET_ENV"))
	}
	// Never log localKey's bytes directly; a diagnostic that needs to prove
	// this Funder's identity without leaking the private key masks it here.
	log.Debug("funder: initialized local identity",
		logging.MaskField("peer", keyOf(localKey.PubKey().Bytes())),
		logging.MaskField("privateKey", hex.EncodeToString(localKey.Bytes())))
	return &Funder{
		localKey:      localKey,
		friends:       make(map[string]*friend),
		sender:        sender,
		rates:         rates,
		log:           log,
		maxBatchOps:   defaultMaxBatchOps,
		flushInterval: defaultFlushInterval,
		metrics:       defaultFunderMetrics(),
	}
}

// AddFriend opens a fresh TokenChannel toward remotePub.
func (fd *Funder) AddFriend(remotePub *crypto.PublicKey) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	key := remotePub.String()
	if _, ok := fd.friends[key]; ok {
		return ErrFriendExists
	}
	fd.friends[key] = newFriend(tokenchannel.New(fd.localKey.PubKey(), remotePub))
	return nil
}

// RemoveFriend drops a friend's channel and any queued, unsent operations.
func (fd *Funder) RemoveFriend(peer []byte) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	delete(fd.friends, keyOf(peer))
}

func keyOf(peer []byte) string { return hex.EncodeToString(peer) }

func (fd *Funder) lookup(peer []byte) (*friend, bool) {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	f, ok := fd.friends[keyOf(peer)]
	return f, ok
}

// Ledger implements pendingtx.FriendResolver.
func (fd *Funder) Ledger(peer []byte, cur currency.Currency) (*mutualcredit.Ledger, bool) {
	f, ok := fd.lookup(peer)
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel.Ledger(cur), true
}

// Rate implements pendingtx.FriendResolver. A per-friend override set via
// SetFriendCurrencyRate takes precedence over the Funder-wide RateTable.
func (fd *Funder) Rate(peer []byte, cur currency.Currency) currency.Rate {
	if f, ok := fd.lookup(peer); ok {
		f.mu.Lock()
		rate, ok := f.rateOverrides[cur.String()]
		f.mu.Unlock()
		if ok {
			return rate
		}
	}
	if fd.rates == nil {
		return currency.NewRate(0, 0)
	}
	return fd.rates.Rate(peer, cur)
}

// Enqueue implements pendingtx.FriendResolver: it queues op for peer and, if
// the queue has reached maxBatchOps and this side already holds the
// token, flushes immediately rather than waiting for the next tick.
func (fd *Funder) Enqueue(peer []byte, cur currency.Currency, op wire.EncodedOperation) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	if !f.enabled {
		f.mu.Unlock()
		return ErrFriendDisabled
	}
	f.enqueue(cur, op)
	n := f.queueLen()
	f.mu.Unlock()
	fd.metrics.queueDepth.Add(1)
	if n >= fd.maxBatchOps {
		return fd.flush(context.Background(), peer, f)
	}
	return nil
}

// flush builds and sends a move token for every queued operation on f, if
// this side currently holds the token. It is a no-op, not an error, when the
// remote side holds the token: the batch simply waits for the next inbound
// move token to pass it back, or for Run's ticker to retry.
func (fd *Funder) flush(ctx context.Context, peer []byte, f *friend) error {
	f.mu.Lock()
	if f.channel.Direction() != tokenchannel.Outgoing {
		f.mu.Unlock()
		return nil
	}
	if f.queueLen() == 0 && len(f.pendingCurrenciesDiff) == 0 && len(f.pendingRelaysDiff) == 0 && !f.tokenWanted {
		f.mu.Unlock()
		return nil
	}
	fd.metrics.queueDepth.Sub(float64(f.queueLen()))
	batches := f.drainBatches()
	currenciesDiff := f.drainCurrenciesDiff()
	relaysDiff := f.drainRelaysDiff()
	mt, err := f.channel.BuildMoveToken(fd.localKey, batches, currenciesDiff, relaysDiff)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("funder: build move token: %w", err)
	}
	req := wire.MoveTokenRequest{MoveToken: mt, TokenWanted: f.tokenWanted}
	f.tokenWanted = false
	msg, err := wire.EncodeMoveTokenRequest(req)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("funder: encode move token request: %w", err)
	}
	raw, err := wire.MarshalFriendMessage(msg)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("funder: marshal friend message: %w", err)
	}
	f.lastOutbound = raw
	f.mu.Unlock()

	// raw carries the signed move token wire-for-wire, including NewToken
	// (the signature) and any Collect batches that just revealed a
	// hash-lock pre-image: never let it reach a log line unmasked.
	fd.log.Debug("funder: built move token", logging.MaskField("peer", keyOf(peer)), logging.MaskField("token", hex.EncodeToString(raw)))

	fd.metrics.moveTokenTotal.Inc()
	if err := fd.sender.Send(ctx, peer, msg); err != nil {
		fd.metrics.sendFailures.Inc()
		fd.log.Warn("funder: send move token failed, will retry on reconnect", logging.MaskField("peer", keyOf(peer)), logging.MaskField("error", err.Error()))
		return nil
	}
	return nil
}

// HandleInbound decodes and applies an inbound FriendMessage from peer. For
// a move-token request it runs TokenChannel's reception algorithm through
// handler (normally a pendingtx.Router) and, if the remote asked for the
// token back, calls flush: queued operations, currency or relay changes, or
// this side's own token request go out in the reply. When none of those is
// pending no move token is sent and the token stays on this side. A move
// token that fails to apply marks the channel Inconsistent, cancels every
// transaction routed through peer, replies with this side's reset terms and
// returns the failure. For an inconsistency error it resolves the reset
// against this side's own terms.
func (fd *Funder) HandleInbound(ctx context.Context, peer []byte, msg wire.FriendMessage, handler tokenchannel.OperationHandler) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	switch msg.Kind {
	case wire.KindMoveTokenRequest:
		req, err := wire.DecodeMoveTokenRequest(msg)
		if err != nil {
			return err
		}
		f.mu.Lock()
		err = f.channel.ReceiveMoveToken(req.MoveToken, handler)
		if err != nil {
			f.channel.Inconsistent()
			f.mu.Unlock()
			if canceler, ok := handler.(FriendTransactionCanceler); ok {
				canceler.CancelAllFriendTransactions(peer)
			}
			if sendErr := fd.sendInconsistency(ctx, peer, f); sendErr != nil {
				return sendErr
			}
			return fmt.Errorf("funder: move token rejected: %w", err)
		}
		wantsBack := req.TokenWanted
		f.mu.Unlock()
		if wantsBack {
			return fd.flush(ctx, peer, f)
		}
		return nil
	case wire.KindInconsistencyError:
		remoteTerms, err := wire.DecodeInconsistencyError(msg)
		if err != nil {
			return err
		}
		if err := fd.resolveInconsistency(ctx, peer, f, remoteTerms); err != nil {
			return err
		}
		if canceler, ok := handler.(FriendTransactionCanceler); ok {
			canceler.CancelAllFriendTransactions(peer)
		}
		return nil
	default:
		return fmt.Errorf("funder: unknown friend message kind %d", msg.Kind)
	}
}

func (fd *Funder) sendInconsistency(ctx context.Context, peer []byte, f *friend) error {
	f.mu.Lock()
	terms, err := f.channel.LocalResetTerms(fd.localKey)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	msg, err := wire.EncodeInconsistencyError(terms)
	if err != nil {
		return err
	}
	return fd.sender.Send(ctx, peer, msg)
}

func (fd *Funder) resolveInconsistency(ctx context.Context, peer []byte, f *friend, remoteTerms wire.ResetTerms) error {
	f.mu.Lock()
	remotePub, err := crypto.PublicKeyFromBytes(peer)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	localTerms, err := f.channel.LocalResetTerms(fd.localKey)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	winner, err := f.channel.ResolveReset(localTerms, remoteTerms, remotePub)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if winner.ResetToken != localTerms.ResetToken {
		return nil
	}
	msg, err := wire.EncodeInconsistencyError(winner)
	if err != nil {
		return err
	}
	return fd.sender.Send(ctx, peer, msg)
}

// SetOnline marks a friend's liveness state. Transitioning from offline to
// online resends the last move token this side sent but never confirmed,
// and flushes anything queued while the friend was unreachable.
func (fd *Funder) SetOnline(ctx context.Context, peer []byte, online bool) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	wasOffline := !f.online
	f.online = online
	last := f.lastOutbound
	direction := f.channel.Direction()
	f.mu.Unlock()

	if !online || !wasOffline {
		return nil
	}
	if direction == tokenchannel.Incoming && last != nil {
		msg, err := wire.UnmarshalFriendMessage(last)
		if err != nil {
			return err
		}
		fd.log.Debug("funder: resending unconfirmed move token to reconnected friend",
			logging.MaskField("peer", keyOf(peer)), logging.MaskField("token", hex.EncodeToString(last)))
		if err := fd.sender.Send(ctx, peer, msg); err != nil {
			fd.metrics.sendFailures.Inc()
			return nil
		}
	}
	return fd.flush(ctx, peer, f)
}

// OpenCurrency activates cur on the channel toward peer, letting Enqueue
// and Ledger use it. Like queued operations, the activation rides on
// whichever move token this side next sends; call flush (via Enqueue
// reaching maxBatchOps, Run's ticker, or RequestTokenBack) once ready.
// Opening a currency that is already active, or already queued to become
// active, queues nothing.
func (fd *Funder) OpenCurrency(peer []byte, cur currency.Currency) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	active := false
	for _, c := range f.channel.ActiveCurrencies() {
		if c.Equal(cur) {
			active = true
		}
	}
	for _, tag := range f.pendingCurrenciesDiff {
		if string(tag) == string(cur.Bytes()) {
			active = !active
		}
	}
	if !active {
		f.pendingCurrenciesDiff = append(f.pendingCurrenciesDiff, cur.Bytes())
	}
	f.mu.Unlock()
	return nil
}

// CloseCurrency deactivates cur on the channel toward peer, dropping its
// ledger. As with OpenCurrency, the change rides on this side's next
// outbound move token. Closing a currency that is not active, or already
// queued to become inactive, queues nothing.
func (fd *Funder) CloseCurrency(peer []byte, cur currency.Currency) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	active := false
	for _, c := range f.channel.ActiveCurrencies() {
		if c.Equal(cur) {
			active = true
		}
	}
	for _, tag := range f.pendingCurrenciesDiff {
		if string(tag) == string(cur.Bytes()) {
			active = !active
		}
	}
	if active {
		f.pendingCurrenciesDiff = append(f.pendingCurrenciesDiff, cur.Bytes())
	}
	f.mu.Unlock()
	return nil
}

// RemoveFriendCurrency is CloseCurrency's name from the control surface
// (spec.md §6); it is the same operation under a different application
// command name.
func (fd *Funder) RemoveFriendCurrency(peer []byte, cur currency.Currency) error {
	return fd.CloseCurrency(peer, cur)
}

// SetFriendName records operator-facing metadata for peer; it has no
// protocol effect.
func (fd *Funder) SetFriendName(peer []byte, name string) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
	return nil
}

// FriendName returns whatever name SetFriendName last recorded for peer.
func (fd *Funder) FriendName(peer []byte) (string, bool) {
	f, ok := fd.lookup(peer)
	if !ok {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, true
}

// SetFriendRelays queues a new relay list for peer, riding the next
// outbound move token's relaysDiff field (spec.md §4.3, §6).
func (fd *Funder) SetFriendRelays(peer []byte, relays [][]byte) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.pendingRelaysDiff = relays
	f.mu.Unlock()
	return nil
}

// SetFriendCurrencyRate overrides the mediator fee this node charges peer
// for cur, taking precedence over the Funder-wide RateTable.
func (fd *Funder) SetFriendCurrencyRate(peer []byte, cur currency.Currency, rate currency.Rate) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	if f.rateOverrides == nil {
		f.rateOverrides = make(map[string]currency.Rate)
	}
	f.rateOverrides[cur.String()] = rate
	f.mu.Unlock()
	return nil
}

// SetFriendCurrencyMaxDebt raises or lowers how much credit this node
// extends to peer in cur: it sets the local ledger's cap immediately and
// enqueues the matching wire operation so peer's mirrored ledger converges
// on the next move token.
func (fd *Funder) SetFriendCurrencyMaxDebt(peer []byte, cur currency.Currency, maxDebt *big.Int) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	ledger := f.channel.Ledger(cur)
	f.mu.Unlock()
	ledger.SetLocalMaxDebt(maxDebt)
	enc, err := wire.EncodeOperation(wire.OpSetRemoteMaxDebt, wire.SetRemoteMaxDebtOp{Value: maxDebt})
	if err != nil {
		return err
	}
	return fd.Enqueue(peer, cur, enc)
}

// EnableFriend resumes accepting new queued operations for peer.
func (fd *Funder) EnableFriend(peer []byte) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
	return nil
}

// DisableFriend pauses Enqueue for peer without touching its channel state;
// operations already queued stay queued and still go out with this side's
// next move token.
func (fd *Funder) DisableFriend(peer []byte) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
	return nil
}

// ResetFriendChannel administratively forces peer's channel into
// Inconsistent and emits this side's own reset proposal, the same path a
// detected protocol violation would take (spec.md §4.3).
func (fd *Funder) ResetFriendChannel(ctx context.Context, peer []byte) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.channel.Inconsistent()
	f.mu.Unlock()
	return fd.sendInconsistency(ctx, peer, f)
}

// FriendCurrencySummary is one friend/currency's current send/receive
// capacity and mediator rate, the shape the index-server collaborator
// publishes (spec.md §6).
type FriendCurrencySummary struct {
	Peer         []byte
	Currency     currency.Currency
	SendCapacity *big.Int
	RecvCapacity *big.Int
	Rate         currency.Rate
}

// Summaries reports FriendCurrencySummary for every active currency on
// every friend, mirroring flushDue's snapshot-then-release iteration.
func (fd *Funder) Summaries() []FriendCurrencySummary {
	fd.mu.RLock()
	friends := make(map[string]*friend, len(fd.friends))
	for k, f := range fd.friends {
		friends[k] = f
	}
	fd.mu.RUnlock()

	var out []FriendCurrencySummary
	for hexPeer, f := range friends {
		peer, err := parseHexPeer(hexPeer)
		if err != nil {
			continue
		}
		f.mu.Lock()
		currencies := f.channel.ActiveCurrencies()
		snapshots := make([]mutualcredit.Snapshot, len(currencies))
		for i, cur := range currencies {
			snapshots[i] = f.channel.Ledger(cur).Snapshot()
		}
		f.mu.Unlock()

		for i, cur := range currencies {
			snap := snapshots[i]
			sendCap := new(big.Int).Sub(new(big.Int).Add(snap.Balance, snap.LocalMaxDebt), snap.LocalPendingDebt)
			recvCap := new(big.Int).Sub(new(big.Int).Sub(snap.RemoteMaxDebt, snap.Balance), snap.RemotePendingDebt)
			out = append(out, FriendCurrencySummary{
				Peer:         peer,
				Currency:     cur,
				SendCapacity: sendCap,
				RecvCapacity: recvCap,
				Rate:         fd.Rate(peer, cur),
			})
		}
	}
	return out
}

// RequestTokenBack marks that this side wants the token returned once the
// remote side finishes its own pending batch, then flushes immediately if
// this side already holds it.
func (fd *Funder) RequestTokenBack(ctx context.Context, peer []byte) error {
	f, ok := fd.lookup(peer)
	if !ok {
		return ErrUnknownFriend
	}
	f.mu.Lock()
	f.tokenWanted = true
	f.mu.Unlock()
	return fd.flush(ctx, peer, f)
}

// Run periodically flushes every friend with operations that have been
// queued longer than flushInterval, bounding worst-case latency for a
// payment stuck behind a quiet channel. It returns when ctx is cancelled.
func (fd *Funder) Run(ctx context.Context) error {
	ticker := time.NewTicker(fd.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fd.flushDue(ctx)
		}
	}
}

func (fd *Funder) flushDue(ctx context.Context) {
	fd.mu.RLock()
	due := make(map[string]*friend, len(fd.friends))
	for k, f := range fd.friends {
		due[k] = f
	}
	fd.mu.RUnlock()

	for hexPeer, f := range due {
		f.mu.Lock()
		stale := !f.queued.IsZero() && time.Since(f.queued) >= fd.flushInterval
		f.mu.Unlock()
		if !stale {
			continue
		}
		peer, err := parseHexPeer(hexPeer)
		if err != nil {
			continue
		}
		if err := fd.flush(ctx, peer, f); err != nil {
			fd.log.Warn("funder: periodic flush failed", logging.MaskField("peer", hexPeer), logging.MaskField("error", err.Error()))
		}
	}
}

func parseHexPeer(hexPeer string) ([]byte, error) {
	raw, err := hex.DecodeString(hexPeer)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.PublicKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return pub.Bytes(), nil
}
