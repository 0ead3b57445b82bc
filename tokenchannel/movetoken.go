package tokenchannel

import (
	"fmt"
	"math/big"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/wire"
)

// CurrencyBatch is one currency's worth of operations queued for the next
// outbound move-token, in the order Funder appended them.
type CurrencyBatch struct {
	Currency   currency.Currency
	Operations []wire.EncodedOperation
}

// BuildMoveToken assembles, signs, and applies a new outbound MoveToken from
// the queued batches, advancing the channel's own state exactly as
// ReceiveMoveToken would on the remote side. It fails with ErrNotOutgoing if
// the local side does not currently hold the token.
//
// currenciesDiff lists currencies newly added (ledger created with zero
// caps) or removed (ledger dropped) in this batch; relaysDiff is sent
// verbatim to the remote side and also applied to localRelays here.
func (c *Channel) BuildMoveToken(priv *crypto.PrivateKey, batches []CurrencyBatch, currenciesDiff [][]byte, relaysDiff [][]byte) (wire.MoveToken, error) {
	if c.direction != Outgoing {
		return wire.MoveToken{}, ErrNotOutgoing
	}
	for _, diff := range currenciesDiff {
		cur, err := currency.New(string(diff))
		if err != nil {
			return wire.MoveToken{}, err
		}
		if c.hasCurrency(cur) {
			c.deactivate(cur)
		} else {
			c.activate(cur)
			c.Ledger(cur)
		}
	}
	if relaysDiff != nil {
		c.localRelays = relaysDiff
	}

	ops := make([]wire.CurrencyOps, 0, len(batches))
	for _, b := range batches {
		if !c.hasCurrency(b.Currency) {
			return wire.MoveToken{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, b.Currency)
		}
		ledger := c.Ledger(b.Currency)
		for _, enc := range b.Operations {
			if err := applySent(ledger, enc); err != nil {
				return wire.MoveToken{}, err
			}
		}
		ops = append(ops, wire.CurrencyOps{Currency: b.Currency.Bytes(), Operations: b.Operations})
	}

	mt := wire.MoveToken{
		OldToken:             c.lastToken,
		CurrenciesOperations: ops,
		CurrenciesDiff:       currenciesDiff,
		RelaysDiff:           relaysDiff,
		InfoHash:             c.computeInfoHash(),
		MoveTokenCounter:     new(big.Int).Set(c.moveTokenCounter),
	}
	buf, err := mt.SignedBuffer()
	if err != nil {
		return wire.MoveToken{}, err
	}
	sig, err := crypto.Sign(priv, buf)
	if err != nil {
		return wire.MoveToken{}, err
	}
	mt.NewToken = sig

	c.lastToken = sig
	c.moveTokenCounter = new(big.Int).Add(c.moveTokenCounter, big.NewInt(1))
	c.direction = Incoming
	return mt, nil
}

// applySent applies, to the sender's own ledger, the local-side effect of a
// self-contained operation about to go out in a move token: SetRemoteMaxDebt
// tells the remote what we extend to it, which is our own localMaxDebt;
// EnableRequests/DisableRequests likewise flip our own localRequestsOpen.
// Request/Response/Cancel/Collect are no-ops here: Router already mutated
// the live ledger (FreezeLocal/CommitLocalToRemote/etc.) at the moment the
// operation was originated or handled, well before this batch is built.
func applySent(ledger *mutualcredit.Ledger, enc wire.EncodedOperation) error {
	switch enc.Kind {
	case wire.OpSetRemoteMaxDebt:
		op, err := wire.DecodeSetRemoteMaxDebt(enc)
		if err != nil {
			return err
		}
		ledger.SetLocalMaxDebt(op.Value)
		return nil
	case wire.OpEnableRequests:
		ledger.SetLocalRequests(true)
		return nil
	case wire.OpDisableRequests:
		ledger.SetLocalRequests(false)
		return nil
	default:
		return nil
	}
}

func (c *Channel) hasCurrency(cur currency.Currency) bool {
	for _, existing := range c.activeCurrencies {
		if existing.Equal(cur) {
			return true
		}
	}
	return false
}

// ReceiveMoveToken runs the five-step reception algorithm against an
// inbound MoveToken claimed to be signed by the remote side:
//
//  1. oldToken must equal the lastToken this side currently holds.
//  2. newToken's signature must verify against the remote's public key.
//  3. currenciesDiff is applied (activate/deactivate ledgers).
//  4. Every currency's operations are applied in order via handler; any
//     failure rejects the whole move-token (no partial effect).
//  5. The post-application infoHash must match the claimed infoHash.
//
// On success the channel's lastToken, counter, and direction all advance
// and the method returns nil. On any mismatch it returns one of the sentinel
// errors above and leaves the channel's applied state exactly as it was
// before the call (operations are staged on a scratch copy until every
// check passes).
func (c *Channel) ReceiveMoveToken(mt wire.MoveToken, handler OperationHandler) error {
	if c.direction != Incoming {
		return fmt.Errorf("tokenchannel: cannot receive move token while holding it")
	}
	if mt.OldToken != c.lastToken {
		return ErrBadOldToken
	}
	buf, err := mt.SignedBuffer()
	if err != nil {
		return err
	}
	if !crypto.Verify(c.remotePub, mt.NewToken, buf) {
		return ErrBadSignature
	}

	scratch := c.scratchCopy()
	for _, diff := range mt.CurrenciesDiff {
		cur, err := currency.New(string(diff))
		if err != nil {
			return err
		}
		if scratch.hasCurrency(cur) {
			scratch.deactivate(cur)
		} else {
			scratch.activate(cur)
			scratch.Ledger(cur)
		}
	}

	for _, co := range mt.CurrenciesOperations {
		cur, err := currency.New(string(co.Currency))
		if err != nil {
			return err
		}
		if !scratch.hasCurrency(cur) {
			return fmt.Errorf("%w: %s", ErrUnknownCurrency, cur)
		}
		ledger := scratch.Ledger(cur)
		for _, enc := range co.Operations {
			// handler (normally a pendingtx.Router) may, as a side effect of
			// this one op, freeze credit on a different friend's real ledger
			// or insert/remove an entry in the pending table, neither of
			// which is part of this channel's scratch copy. If a later op in
			// this same batch or the infoHash check below fails, those
			// cross-friend side effects are not rolled back here: the caller
			// driving Inconsistent()+CancelAllFriendTransactions(peer) on
			// failure is what unwinds them, by cancelling every entry whose
			// PrevPeer or NextPeer is this peer.
			if err := applyReceived(c.remotePub.Bytes(), cur, ledger, enc, handler); err != nil {
				return fmt.Errorf("tokenchannel: apply operation kind %d on %s: %w", enc.Kind, cur, err)
			}
		}
	}

	if scratch.computeInfoHash() != mt.InfoHash {
		return ErrBadInfoHash
	}

	c.ledgers = scratch.ledgers
	c.activeCurrencies = scratch.activeCurrencies
	if mt.RelaysDiff != nil {
		c.localRelays = mt.RelaysDiff
	}
	c.lastToken = mt.NewToken
	c.moveTokenCounter = new(big.Int).Add(mt.MoveTokenCounter, big.NewInt(1))
	c.direction = Outgoing
	return nil
}

// scratchCopy produces a deep copy of the channel's ledger state sharing no
// mutable data with c, so ReceiveMoveToken can stage an attempted
// application and discard it wholesale on any failure.
func (c *Channel) scratchCopy() *Channel {
	cp := &Channel{
		localPub:         c.localPub,
		remotePub:        c.remotePub,
		direction:        c.direction,
		lastToken:        c.lastToken,
		moveTokenCounter: c.moveTokenCounter,
		localRelays:      c.localRelays,
		ledgers:          make(map[string]*mutualcredit.Ledger, len(c.ledgers)),
		activeCurrencies: append([]currency.Currency(nil), c.activeCurrencies...),
	}
	for k, l := range c.ledgers {
		cp.ledgers[k] = mutualcredit.FromSnapshot(l.Snapshot())
	}
	return cp
}

// applyReceived applies one decoded operation to ledger from the receiving
// side's mirrored perspective. SetRemoteMaxDebt/EnableRequests/
// DisableRequests are self-contained; Request/Cancel/Collect/Response need
// pending-transaction context the handler owns.
func applyReceived(peer []byte, cur currency.Currency, ledger *mutualcredit.Ledger, enc wire.EncodedOperation, handler OperationHandler) error {
	switch enc.Kind {
	case wire.OpSetRemoteMaxDebt:
		op, err := wire.DecodeSetRemoteMaxDebt(enc)
		if err != nil {
			return err
		}
		ledger.SetRemoteMaxDebt(op.Value)
		return nil
	case wire.OpEnableRequests:
		ledger.SetRemoteRequests(true)
		return nil
	case wire.OpDisableRequests:
		ledger.SetRemoteRequests(false)
		return nil
	case wire.OpRequestSendFunds:
		op, err := wire.DecodeRequestSendFunds(enc)
		if err != nil {
			return err
		}
		return handler.HandleRequest(peer, cur, ledger, op)
	case wire.OpResponseSendFunds:
		op, err := wire.DecodeResponseSendFunds(enc)
		if err != nil {
			return err
		}
		return handler.HandleResponse(peer, cur, op)
	case wire.OpCancelSendFunds:
		op, err := wire.DecodeCancelSendFunds(enc)
		if err != nil {
			return err
		}
		return handler.HandleCancel(peer, cur, ledger, op)
	case wire.OpCollectSendFunds:
		op, err := wire.DecodeCollectSendFunds(enc)
		if err != nil {
			return err
		}
		return handler.HandleCollect(peer, cur, ledger, op)
	default:
		return fmt.Errorf("tokenchannel: unknown operation kind %d", enc.Kind)
	}
}
