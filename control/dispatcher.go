package control

import (
	"context"
	"fmt"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/events"
	"github.com/freedomlayer/offset/funder"
	"github.com/freedomlayer/offset/payment"
)

// Dispatcher routes Commands into Funder and PaymentEngine, acknowledging
// each one through Emitter the way spec.md §6 describes: "the core
// acknowledges by emitting a report mutation tagged with that id."
type Dispatcher struct {
	funder  *funder.Funder
	engine  *payment.Engine
	emitter events.Emitter
}

// New constructs a Dispatcher. A nil emitter is replaced with
// events.NoopEmitter.
func New(fd *funder.Funder, engine *payment.Engine, emitter events.Emitter) *Dispatcher {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Dispatcher{funder: fd, engine: engine, emitter: emitter}
}

// Dispatch applies cmd and emits its ApplicationReport: an Ack by default,
// or whatever more specific report the command produces (RequestClosePayment
// yields a PaymentUpdate instead), always tagged with cmd's own request-id
// (spec.md §6). A non-nil return is always also reflected as a Fatal report
// before being handed back to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	reqID := cmd.requestID()
	report, err := d.apply(ctx, cmd)
	if err != nil {
		d.emitter.Emit(events.Fatal(reqID, err.Error()))
		return err
	}
	if report == nil {
		ack := events.Ack(reqID)
		report = &ack
	}
	d.emitter.Emit(*report)
	return nil
}

func (d *Dispatcher) apply(ctx context.Context, cmd Command) (*events.ApplicationReport, error) {
	switch c := cmd.(type) {
	case AddFriend:
		pub, err := crypto.PublicKeyFromBytes(c.RemotePub)
		if err != nil {
			return nil, err
		}
		return nil, d.funder.AddFriend(pub)
	case RemoveFriend:
		d.funder.RemoveFriend(c.Peer)
		return nil, nil
	case SetFriendName:
		return nil, d.funder.SetFriendName(c.Peer, c.Name)
	case SetFriendRelays:
		return nil, d.funder.SetFriendRelays(c.Peer, c.Relays)
	case SetFriendCurrencyRate:
		return nil, d.funder.SetFriendCurrencyRate(c.Peer, c.Currency, currency.NewRate(c.RateMul, c.RateAdd))
	case SetFriendCurrencyMaxDebt:
		return nil, d.funder.SetFriendCurrencyMaxDebt(c.Peer, c.Currency, c.MaxDebt)
	case OpenFriendCurrency:
		return nil, d.funder.OpenCurrency(c.Peer, c.Currency)
	case CloseFriendCurrency:
		return nil, d.funder.CloseCurrency(c.Peer, c.Currency)
	case RemoveFriendCurrency:
		return nil, d.funder.RemoveFriendCurrency(c.Peer, c.Currency)
	case EnableFriend:
		return nil, d.funder.EnableFriend(c.Peer)
	case DisableFriend:
		return nil, d.funder.DisableFriend(c.Peer)
	case ResetFriendChannel:
		return nil, d.funder.ResetFriendChannel(ctx, c.Peer)
	case AddInvoice:
		return nil, d.engine.AddInvoice(c.InvoiceID, c.Currency, c.TotalDestPayment)
	case CancelInvoice:
		return nil, d.engine.CancelInvoice(c.InvoiceID)
	case CommitInvoiceCmd:
		commits := make([]payment.Commit, 0, len(c.Commits))
		for _, a := range c.Commits {
			commits = append(commits, payment.Commit{RequestID: a.RequestID, SrcPlainLock: a.SrcPlainLock, Signature: a.Signature})
		}
		return nil, d.engine.CommitInvoice(payment.MultiCommit{InvoiceID: c.InvoiceID, Commits: commits})
	case CreatePayment:
		destPub, err := crypto.PublicKeyFromBytes(c.DestPublicKey)
		if err != nil {
			return nil, err
		}
		return nil, d.engine.CreatePayment(c.PaymentID, c.InvoiceID, c.Currency, c.TotalDestPayment, destPub)
	case CreateTransaction:
		route, err := currency.NewFriendsRoute(c.Route)
		if err != nil {
			return nil, err
		}
		_, err = d.engine.CreateTransaction(c.PaymentID, route, c.DestPayment, c.LeftFees)
		return nil, err
	case RequestClosePayment:
		result, err := d.engine.RequestClosePayment(c.PaymentID)
		if err != nil {
			return nil, err
		}
		report := events.PaymentUpdate(c.RequestID, result)
		return &report, nil
	case AckClosePayment:
		return nil, d.engine.AckClosePayment(c.PaymentID, c.AckUID)
	default:
		return nil, fmt.Errorf("control: unknown command %T", cmd)
	}
}
