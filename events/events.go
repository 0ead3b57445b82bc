// Package events correlates control-surface and payment commands with their
// eventual outcome, the way the core acknowledges an application-request-id
// (spec.md §6).
package events

import (
	"github.com/google/uuid"

	"github.com/freedomlayer/offset/payment"
)

// Event is a structured state change the core wants to broadcast to
// downstream subscribers (application layer, logging, metrics).
type Event interface {
	EventType() string
}

// Emitter broadcasts events to whatever subscriber the host process wires
// in. Funder, PaymentEngine, and Control never depend on a concrete
// subscriber, only this interface.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event; it is the default until a caller wires
// in something real.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

const (
	TypeAck           = "report.ack"
	TypeFatal         = "report.fatal"
	TypePaymentUpdate = "report.payment_update"
	TypeInvoiceUpdate = "report.invoice_update"
)

// ApplicationReport is the tagged-union outcome of one application command,
// keyed by the request-id the caller supplied when issuing it.
type ApplicationReport struct {
	RequestID uuid.UUID
	Kind      string

	// FatalReason is set only when Kind == TypeFatal.
	FatalReason string

	// Payment is set only when Kind == TypePaymentUpdate.
	Payment *payment.PaymentResult

	// Invoice is set only when Kind == TypeInvoiceUpdate.
	Invoice *payment.Invoice
}

// EventType implements Event.
func (r ApplicationReport) EventType() string { return r.Kind }

// Ack reports that requestID's command completed with no further detail to
// convey (AddFriend, SetFriendCurrencyRate, and the other control mutations
// that have no async result).
func Ack(requestID uuid.UUID) ApplicationReport {
	return ApplicationReport{RequestID: requestID, Kind: TypeAck}
}

// Fatal reports that requestID's command failed outright.
func Fatal(requestID uuid.UUID, reason string) ApplicationReport {
	return ApplicationReport{RequestID: requestID, Kind: TypeFatal, FatalReason: reason}
}

// PaymentUpdate reports a buyer-side Payment's resolved outcome.
func PaymentUpdate(requestID uuid.UUID, result payment.PaymentResult) ApplicationReport {
	return ApplicationReport{RequestID: requestID, Kind: TypePaymentUpdate, Payment: &result}
}

// InvoiceUpdate reports a seller-side Invoice's current state.
func InvoiceUpdate(requestID uuid.UUID, inv payment.Invoice) ApplicationReport {
	return ApplicationReport{RequestID: requestID, Kind: TypeInvoiceUpdate, Invoice: &inv}
}
