package events

import (
	"testing"

	"github.com/google/uuid"

	"github.com/freedomlayer/offset/payment"
)

func TestNoopEmitterDiscards(t *testing.T) {
	var e Emitter = NoopEmitter{}
	e.Emit(Ack(uuid.New()))
}

func TestAckAndFatalReports(t *testing.T) {
	id := uuid.New()
	ack := Ack(id)
	if ack.EventType() != TypeAck || ack.RequestID != id {
		t.Fatalf("unexpected ack report: %+v", ack)
	}
	fatal := Fatal(id, "boom")
	if fatal.EventType() != TypeFatal || fatal.FatalReason != "boom" {
		t.Fatalf("unexpected fatal report: %+v", fatal)
	}
}

func TestPaymentUpdateCarriesResult(t *testing.T) {
	id := uuid.New()
	result := payment.PaymentResult{Status: payment.PaymentSuccess}
	report := PaymentUpdate(id, result)
	if report.Payment == nil || report.Payment.Status != payment.PaymentSuccess {
		t.Fatalf("expected payment update to carry the result, got %+v", report)
	}
}
