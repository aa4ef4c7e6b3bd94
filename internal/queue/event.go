// Package queue defines message payloads exchanged over the message broker
// and the consumer that writes them to the payment audit log.
package queue

// PaymentReconciledQueue is the durable queue carrying PaymentReconciledEvent.
const PaymentReconciledQueue = "payment.reconciled"

// PaymentReconciledEvent is published after a booking's payment status
// changed and the change was committed.  It carries enough for downstream
// consumers (audit log, notifications, analytics) to act without querying
// the primary database.
type PaymentReconciledEvent struct {
    EventID        string `json:"event_id"`
    OrderID        string `json:"order_id"`
    BookingID      uint64 `json:"booking_id"`
    PreviousStatus string `json:"previous_status"`
    Status         string `json:"status"`
    LedgerStatus   string `json:"ledger_status"`
    Source         string `json:"source"` // webhook, sync, manual, customer_cancel
    ActorID        uint64 `json:"actor_id,omitempty"`
    OccurredAt     string `json:"occurred_at"`
}
