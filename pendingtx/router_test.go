package pendingtx

import (
	"errors"
	"math/big"
	"testing"

	"github.com/freedomlayer/offset/crypto"
	"github.com/freedomlayer/offset/currency"
	"github.com/freedomlayer/offset/mutualcredit"
	"github.com/freedomlayer/offset/wire"
)

// fakeResolver is an in-memory FriendResolver keyed by hex peer identity
// plus currency tag, enough to exercise Router without a real Funder.
type fakeResolver struct {
	ledgers map[string]*mutualcredit.Ledger
	rate    currency.Rate
	queue   []queued
}

type queued struct {
	peer string
	cur  currency.Currency
	op   wire.EncodedOperation
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{ledgers: make(map[string]*mutualcredit.Ledger), rate: currency.NewRate(0, 1)}
}

func key(peer []byte, cur currency.Currency) string { return string(peer) + "|" + cur.String() }

func (f *fakeResolver) Ledger(peer []byte, cur currency.Currency) (*mutualcredit.Ledger, bool) {
	k := key(peer, cur)
	l, ok := f.ledgers[k]
	if !ok {
		l = mutualcredit.New()
		l.SetLocalMaxDebt(currency.MaxU128())
		l.SetRemoteMaxDebt(currency.MaxU128())
		f.ledgers[k] = l
	}
	return l, true
}

func (f *fakeResolver) Rate(peer []byte, cur currency.Currency) currency.Rate { return f.rate }

func (f *fakeResolver) Enqueue(peer []byte, cur currency.Currency, op wire.EncodedOperation) error {
	f.queue = append(f.queue, queued{peer: string(peer), cur: cur, op: op})
	return nil
}

type fakeDest struct {
	responses []wire.ResponseSendFundsOp
	cancelled []([16]byte)
	collected [][16]byte
}

func (d *fakeDest) ReceiveRequest(cur currency.Currency, op wire.RequestSendFundsOp) (wire.ResponseSendFundsOp, error) {
	return wire.ResponseSendFundsOp{RequestID: op.RequestID}, nil
}
func (d *fakeDest) ReceiveResponse(id [16]byte, op wire.ResponseSendFundsOp) { d.responses = append(d.responses, op) }
func (d *fakeDest) ReceiveCancel(id [16]byte)                               { d.cancelled = append(d.cancelled, id) }
func (d *fakeDest) ReceiveCollect(id [16]byte, preimage [32]byte)           { d.collected = append(d.collected, id) }

func pk(t *testing.T) *crypto.PublicKey {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv.PubKey()
}

func TestOriginateRequestFreezesAndEnqueues(t *testing.T) {
	origin := pk(t)
	mid := pk(t)
	dst := pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), mid.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(origin, table, resolver, &fakeDest{})

	var srcHashed, invoiceHash, srcPreimage [32]byte
	id, err := router.OriginateRequest(cur, route, big.NewInt(100), big.NewInt(101), big.NewInt(2), srcHashed, invoiceHash, srcPreimage)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	if len(resolver.queue) != 1 {
		t.Fatalf("expected one enqueued op, got %d", len(resolver.queue))
	}
	entry, err := table.Get(id)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.PrevPeer != nil {
		t.Fatalf("expected origin entry to have nil PrevPeer")
	}
}

func TestMediatorForwardsAndCancelUnwinds(t *testing.T) {
	origin := pk(t)
	self := pk(t)
	dst := pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	dest := &fakeDest{}
	router := NewRouter(self, table, resolver, dest)

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(51),
		LeftFees:         big.NewInt(1),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if len(resolver.queue) != 1 {
		t.Fatalf("expected forwarded request, got %d queued", len(resolver.queue))
	}
	entry, err := table.Get(op.RequestID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.PrevPeer == nil || entry.NextPeer == nil {
		t.Fatalf("expected mediator entry to have both peers set")
	}

	// Now a cancel arrives from downstream (dst), unwinding both legs.
	cancelOp := wire.CancelSendFundsOp{RequestID: op.RequestID}
	dstLedger, _ := resolver.Ledger(dst.Bytes(), cur)
	if err := router.HandleCancel(dst.Bytes(), cur, dstLedger, cancelOp); err != nil {
		t.Fatalf("handle cancel: %v", err)
	}
	if _, err := table.Get(op.RequestID); err == nil {
		t.Fatalf("expected entry to be removed after cancel resolves")
	}
	if len(resolver.queue) != 2 {
		t.Fatalf("expected cancel propagated upstream, queue length %d", len(resolver.queue))
	}
}

// TestThreeHopFeeConservation reproduces spec.md §8 scenario 2: a chain
// B-C-D-E where C and D each charge a flat fee of 1, the origin budgets
// leftFees=2 for a destPayment=100 payment, and after Collect settles every
// hop, the net balance change at each node must be exactly B -102, C +1,
// D +1, E +100.
func TestThreeHopFeeConservation(t *testing.T) {
	b, c, d, e := pk(t), pk(t), pk(t), pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{b.Bytes(), c.Bytes(), d.Bytes(), e.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	flatFee := currency.NewRate(0, 1)
	resB, resC, resD, resE := newFakeResolver(), newFakeResolver(), newFakeResolver(), newFakeResolver()
	resC.rate, resD.rate = flatFee, flatFee

	destE := &fakeDest{}
	tableB, tableC, tableD, tableE := NewTable(), NewTable(), NewTable(), NewTable()
	routerB := NewRouter(b, tableB, resB, &fakeDest{})
	routerC := NewRouter(c, tableC, resC, &fakeDest{})
	routerD := NewRouter(d, tableD, resD, &fakeDest{})
	routerE := NewRouter(e, tableE, resE, destE)

	preimage := [32]byte{0xAB}
	srcHashedLock := [32]byte(crypto.Hash(preimage[:]))
	var invoiceHash [32]byte

	destPayment := big.NewInt(100)
	requestID, err := routerB.OriginateRequest(cur, route, destPayment, destPayment, big.NewInt(2), srcHashedLock, invoiceHash, preimage)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}

	// B -> C
	opBC, err := wire.DecodeRequestSendFunds(resB.queue[0].op)
	if err != nil {
		t.Fatalf("decode b->c: %v", err)
	}
	ledgerCB, _ := resC.Ledger(b.Bytes(), cur)
	if err := routerC.HandleRequest(b.Bytes(), cur, ledgerCB, opBC); err != nil {
		t.Fatalf("handle request at c: %v", err)
	}

	// C -> D
	opCD, err := wire.DecodeRequestSendFunds(resC.queue[0].op)
	if err != nil {
		t.Fatalf("decode c->d: %v", err)
	}
	ledgerDC, _ := resD.Ledger(c.Bytes(), cur)
	if err := routerD.HandleRequest(c.Bytes(), cur, ledgerDC, opCD); err != nil {
		t.Fatalf("handle request at d: %v", err)
	}

	// D -> E
	opDE, err := wire.DecodeRequestSendFunds(resD.queue[0].op)
	if err != nil {
		t.Fatalf("decode d->e: %v", err)
	}
	ledgerED, _ := resE.Ledger(d.Bytes(), cur)
	if err := routerE.HandleRequest(d.Bytes(), cur, ledgerED, opDE); err != nil {
		t.Fatalf("handle request at e: %v", err)
	}

	// The destination sweeps the collect backward toward the origin once it
	// holds both pre-images; this scenario has no destination-side hash
	// lock, so destPlainLock is zero.
	if err := routerE.SettleAsDestination(requestID, preimage, [32]byte{}); err != nil {
		t.Fatalf("settle as destination: %v", err)
	}
	opCollectED, err := wire.DecodeCollectSendFunds(resE.queue[len(resE.queue)-1].op)
	if err != nil {
		t.Fatalf("decode collect e->d: %v", err)
	}
	ledgerDE, _ := resD.Ledger(e.Bytes(), cur)
	if err := routerD.HandleCollect(e.Bytes(), cur, ledgerDE, opCollectED); err != nil {
		t.Fatalf("handle collect at d: %v", err)
	}
	opCollectDC, err := wire.DecodeCollectSendFunds(resD.queue[len(resD.queue)-1].op)
	if err != nil {
		t.Fatalf("decode collect d->c: %v", err)
	}
	ledgerCD, _ := resC.Ledger(d.Bytes(), cur)
	if err := routerC.HandleCollect(d.Bytes(), cur, ledgerCD, opCollectDC); err != nil {
		t.Fatalf("handle collect at c: %v", err)
	}
	opCollectCB, err := wire.DecodeCollectSendFunds(resC.queue[len(resC.queue)-1].op)
	if err != nil {
		t.Fatalf("decode collect c->b: %v", err)
	}
	ledgerBC, _ := resB.Ledger(c.Bytes(), cur)
	if err := routerB.HandleCollect(c.Bytes(), cur, ledgerBC, opCollectCB); err != nil {
		t.Fatalf("handle collect at b: %v", err)
	}

	// A node's net position across a currency is the sum of its ledgers'
	// balances: Collect folds each hop's fee directly into balance, so a
	// mediator's revenue already shows up there without a separate term.
	total := func(res *fakeResolver, peers ...[]byte) *big.Int {
		sum := big.NewInt(0)
		for _, p := range peers {
			l, _ := res.Ledger(p, cur)
			sum.Add(sum, l.Balance())
		}
		return sum
	}

	if got := total(resB, c.Bytes()); got.Cmp(big.NewInt(-102)) != 0 {
		t.Fatalf("expected B's total to be -102, got %s", got)
	}
	if got := total(resC, b.Bytes(), d.Bytes()); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected C's total to be +1, got %s", got)
	}
	if got := total(resD, c.Bytes(), e.Bytes()); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected D's total to be +1, got %s", got)
	}
	if got := total(resE, d.Bytes()); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected E's total to be +100, got %s", got)
	}
}

// signResponse builds the wire.ResponseSignedBuffer a destination would sign
// for entry e and signs it with destPriv, for tests that need a mediator to
// see a real, verifiable Response rather than fakeDest's zero-value one.
func signResponse(t *testing.T, destPriv *crypto.PrivateKey, e *Entry, randNonce [32]byte) wire.ResponseSendFundsOp {
	t.Helper()
	var destHashedLock [32]byte
	buf := wire.ResponseSignedBuffer(e.RequestID, randNonce, e.SrcHashedLock, destHashedLock, e.DestPayment, e.TotalDestPayment, e.InvoiceHash, e.Currency)
	sig, err := crypto.Sign(destPriv, buf...)
	if err != nil {
		t.Fatalf("sign response: %v", err)
	}
	return wire.ResponseSendFundsOp{
		RequestID:      e.RequestID,
		RandNonce:      randNonce,
		DestHashedLock: destHashedLock,
		Signature:      sig,
	}
}

// TestHandleResponseVerifiesDestinationSignatureAtMediator reproduces the
// honest case of spec.md §4.4's mediator verification requirement: a
// correctly-signed Response from dst passes verification at the mediator
// and is forwarded upstream toward origin.
func TestHandleResponseVerifiesDestinationSignatureAtMediator(t *testing.T) {
	originPriv, selfPriv, dstPriv := mustKey(t), mustKey(t), mustKey(t)
	origin, self, dst := originPriv.PubKey(), selfPriv.PubKey(), dstPriv.PubKey()
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(51),
		LeftFees:         big.NewInt(1),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	entry, err := table.Get(op.RequestID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}

	resp := signResponse(t, dstPriv, entry, [32]byte{0x01})
	if err := router.HandleResponse(dst.Bytes(), cur, resp); err != nil {
		t.Fatalf("handle response: %v", err)
	}
	if entry.Stage != AwaitingCollect {
		t.Fatalf("expected entry to advance to AwaitingCollect, got %v", entry.Stage)
	}
	if len(resolver.queue) != 2 {
		t.Fatalf("expected the response to be forwarded upstream, queue length %d", len(resolver.queue))
	}
	fwd, err := wire.DecodeResponseSendFunds(resolver.queue[1].op)
	if err != nil {
		t.Fatalf("decode forwarded response: %v", err)
	}
	if fwd.Signature != resp.Signature {
		t.Fatalf("expected the forwarded response to carry dst's original signature")
	}
}

// TestHandleResponseRejectsForgedSignatureAtMediator reproduces the attack
// spec.md §4.4's mediator verification requirement defends against: a
// Response claiming to come from dst but signed by an unrelated key must be
// rejected at the mediator, never forwarded upstream.
func TestHandleResponseRejectsForgedSignatureAtMediator(t *testing.T) {
	originPriv, selfPriv, dstPriv, attackerPriv := mustKey(t), mustKey(t), mustKey(t), mustKey(t)
	origin, self, dst := originPriv.PubKey(), selfPriv.PubKey(), dstPriv.PubKey()
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(51),
		LeftFees:         big.NewInt(1),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	entry, err := table.Get(op.RequestID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}

	forged := signResponse(t, attackerPriv, entry, [32]byte{0x01})
	err = router.HandleResponse(dst.Bytes(), cur, forged)
	if err == nil {
		t.Fatalf("expected a forged response signature to be rejected")
	}
	if entry.Stage != AwaitingResponse {
		t.Fatalf("expected entry to remain AwaitingResponse after a rejected response")
	}
	if len(resolver.queue) != 1 {
		t.Fatalf("expected the forged response not to be forwarded, queue length %d", len(resolver.queue))
	}
}

// TestHandleResponseRejectsSecondResponseForSameEntry reproduces the stage
// guard spec.md §4.4's ground truth enforces: once an entry has moved to
// AwaitingCollect, a second inbound Response for the same requestId is
// rejected rather than re-forwarded.
func TestHandleResponseRejectsSecondResponseForSameEntry(t *testing.T) {
	originPriv, selfPriv, dstPriv := mustKey(t), mustKey(t), mustKey(t)
	origin, self, dst := originPriv.PubKey(), selfPriv.PubKey(), dstPriv.PubKey()
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(51),
		LeftFees:         big.NewInt(1),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	entry, err := table.Get(op.RequestID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}

	resp := signResponse(t, dstPriv, entry, [32]byte{0x01})
	if err := router.HandleResponse(dst.Bytes(), cur, resp); err != nil {
		t.Fatalf("handle response: %v", err)
	}
	if err := router.HandleResponse(dst.Bytes(), cur, resp); err != ErrNotExpectingResponse {
		t.Fatalf("expected ErrNotExpectingResponse on replay, got %v", err)
	}
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

// TestCancelAllFriendTransactionsMediator reproduces the reset path in
// spec.md's Router description: once a friend's channel goes Inconsistent
// or resolves a reset, every pending transaction routed through that friend
// is cancelled backwards, without touching the ledger shared with that
// friend (a reset already wipes it).
func TestCancelAllFriendTransactionsMediator(t *testing.T) {
	origin := pk(t)
	self := pk(t)
	dst := pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes(), dst.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(51),
		LeftFees:         big.NewInt(1),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if _, err := table.Get(op.RequestID); err != nil {
		t.Fatalf("expected entry to exist before cancelling: %v", err)
	}
	nextLedger, _ := resolver.Ledger(dst.Bytes(), cur)
	frozenBefore := nextLedger.LocalPendingDebt()

	// The friend that timed out / reset is dst, downstream of this entry.
	router.CancelAllFriendTransactions(dst.Bytes())

	if _, err := table.Get(op.RequestID); err == nil {
		t.Fatalf("expected entry to be removed")
	}
	if got := nextLedger.LocalPendingDebt(); frozenBefore.Cmp(big.NewInt(0)) == 0 || got.Cmp(frozenBefore) != 0 {
		t.Fatalf("expected downstream freeze toward dst to be left for the reset to clear, got %s want %s", got, frozenBefore)
	}
	// A cancel should have propagated upstream to origin but never back
	// toward dst itself.
	foundUpstreamCancel := false
	for _, q := range resolver.queue {
		if q.peer == string(origin.Bytes()) {
			decoded, err := wire.DecodeCancelSendFunds(q.op)
			if err != nil {
				continue
			}
			if decoded.RequestID == op.RequestID {
				foundUpstreamCancel = true
			}
		}
	}
	if !foundUpstreamCancel {
		t.Fatalf("expected a cancel to propagate upstream toward origin")
	}
}

// TestCancelAllFriendTransactionsDestination covers the single-leg case: a
// node that is the request's destination has no downstream ledger to
// unfreeze, and its only leg is the ledger with the reset friend, so the
// entry is simply dropped; ReceiveCancel is for the origin only and is not
// called here.
func TestCancelAllFriendTransactionsDestination(t *testing.T) {
	origin := pk(t)
	self := pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	dest := &fakeDest{}
	router := NewRouter(self, table, resolver, dest)

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(50),
		LeftFees:         big.NewInt(0),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}

	router.CancelAllFriendTransactions(origin.Bytes())

	if _, err := table.Get(op.RequestID); err == nil {
		t.Fatalf("expected entry to be removed")
	}
	if len(dest.cancelled) != 0 {
		t.Fatalf("expected no ReceiveCancel at the destination, got %d", len(dest.cancelled))
	}
}

// TestCancelAfterCollectIsInconsistent covers spec.md §3's "A Cancel that
// arrives after a Collect is a protocol violation" edge case: once this
// node has settled a requestId with a Collect, a later Cancel for the same
// requestId must surface as an error rather than be swallowed the way a
// Cancel for an already-cancelled or never-seen requestId is.
func TestCancelAfterCollectIsInconsistent(t *testing.T) {
	origin := pk(t)
	self := pk(t)
	cur, _ := currency.New("FLC")
	route, err := currency.NewFriendsRoute([][]byte{origin.Bytes(), self.Bytes()})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	op := wire.RequestSendFundsOp{
		Route:            route.Hops(),
		DestPayment:      big.NewInt(50),
		TotalDestPayment: big.NewInt(50),
		LeftFees:         big.NewInt(0),
	}
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleRequest(origin.Bytes(), cur, ledger, op); err != nil {
		t.Fatalf("handle request: %v", err)
	}

	var srcPlain, destPlain [32]byte
	if err := router.SettleAsDestination(op.RequestID, srcPlain, destPlain); err != nil {
		t.Fatalf("settle as destination: %v", err)
	}
	if _, err := table.Get(op.RequestID); err == nil {
		t.Fatalf("expected entry to be removed after settling")
	}

	cancelOp := wire.CancelSendFundsOp{RequestID: op.RequestID}
	err = router.HandleCancel(origin.Bytes(), cur, ledger, cancelOp)
	if !errors.Is(err, ErrCancelAfterCollect) {
		t.Fatalf("expected ErrCancelAfterCollect, got %v", err)
	}
}

// TestCancelForUnknownRequestIsIgnored covers the companion case: a
// requestId this node never saw, or already resolved by a plain Cancel,
// must stay a silent no-op.
func TestCancelForUnknownRequestIsIgnored(t *testing.T) {
	origin := pk(t)
	self := pk(t)
	cur, _ := currency.New("FLC")
	resolver := newFakeResolver()
	table := NewTable()
	router := NewRouter(self, table, resolver, &fakeDest{})

	var requestID [16]byte
	requestID[0] = 7
	ledger, _ := resolver.Ledger(origin.Bytes(), cur)
	if err := router.HandleCancel(origin.Bytes(), cur, ledger, wire.CancelSendFundsOp{RequestID: requestID}); err != nil {
		t.Fatalf("expected nil error for unknown requestId, got %v", err)
	}
}
