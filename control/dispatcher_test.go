package control

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/events"
	"github.com/freedomlayer/offset/funder"
	"github.com/freedomlayer/offset/payment"
	"github.com/freedomlayer/offset/pendingtx"
	"github.com/freedomlayer/offset/wire"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type zeroRates struct{}

func (zeroRates) Rate(peer []byte, cur currency.Currency) currency.Rate { return currency.NewRate(0, 0) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingEmitter, *crypto.PrivateKey) {
	t.Helper()
	localKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate local key: %v", err)
	}
	fd := funder.New(localKey, noopSender{}, zeroRates{}, testLogger())
	engine := payment.New(localKey, 4)
	router := pendingtx.NewRouter(localKey.PubKey(), pendingtx.NewTable(), fd, engine)
	engine.BindRouter(router)
	emitter := &recordingEmitter{}
	return New(fd, engine, emitter), emitter, localKey
}

type noopSender struct{}

func (noopSender) Send(context.Context, []byte, wire.FriendMessage) error { return nil }

func TestDispatchAddFriendAcks(t *testing.T) {
	d, emitter, _ := newTestDispatcher(t)
	remote, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate remote key: %v", err)
	}
	reqID := uuid.New()
	cmd := AddFriend{base: base{RequestID: reqID}, RemotePub: remote.PubKey().Bytes()}
	if err := d.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("dispatch add friend: %v", err)
	}
	report, ok := emitter.last().(events.ApplicationReport)
	if !ok {
		t.Fatalf("expected an ApplicationReport, got %T", emitter.last())
	}
	if report.Kind != events.TypeAck || report.RequestID != reqID {
		t.Fatalf("expected an ack for %s, got %+v", reqID, report)
	}
}

func TestDispatchUnknownFriendIsFatal(t *testing.T) {
	d, emitter, _ := newTestDispatcher(t)
	reqID := uuid.New()
	// RemoveFriend on an unknown peer is a no-op in Funder, not an error;
	// OpenFriendCurrency does return ErrUnknownFriend, exercising the
	// fatal-report path.
	cur, err := currency.New("FLC")
	if err != nil {
		t.Fatalf("currency: %v", err)
	}
	badCmd := OpenFriendCurrency{base: base{RequestID: reqID}, Peer: []byte("nobody"), Currency: cur}
	if err := d.Dispatch(context.Background(), badCmd); err == nil {
		t.Fatalf("expected opening a currency on an unknown friend to fail")
	}
	report, ok := emitter.last().(events.ApplicationReport)
	if !ok {
		t.Fatalf("expected an ApplicationReport, got %T", emitter.last())
	}
	if report.Kind != events.TypeFatal || report.RequestID != reqID {
		t.Fatalf("expected a fatal report for %s, got %+v", reqID, report)
	}
}

func TestDispatchAddInvoiceThenRequestClosePayment(t *testing.T) {
	d, emitter, localKey := newTestDispatcher(t)
	cur, err := currency.New("FLC")
	if err != nil {
		t.Fatalf("currency: %v", err)
	}
	invoiceID := uuid.New()
	if err := d.Dispatch(context.Background(), AddInvoice{
		base:             base{RequestID: uuid.New()},
		InvoiceID:        invoiceID,
		Currency:         cur,
		TotalDestPayment: big.NewInt(10),
	}); err != nil {
		t.Fatalf("dispatch add invoice: %v", err)
	}

	paymentID := uuid.New()
	if err := d.Dispatch(context.Background(), CreatePayment{
		base:             base{RequestID: uuid.New()},
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		Currency:         cur,
		TotalDestPayment: big.NewInt(10),
		DestPublicKey:    localKey.PubKey().Bytes(),
	}); err != nil {
		t.Fatalf("dispatch create payment: %v", err)
	}

	reqID := uuid.New()
	closeCmd := RequestClosePayment{base: base{RequestID: reqID}, PaymentID: paymentID}
	if err := d.Dispatch(context.Background(), closeCmd); err == nil {
		t.Fatalf("expected RequestClosePayment to report not-ready before any transaction resolves")
	}
	report, ok := emitter.last().(events.ApplicationReport)
	if !ok || report.Kind != events.TypeFatal {
		t.Fatalf("expected a fatal not-ready report, got %+v", emitter.last())
	}
}
