package model

import (
    "encoding/json"
    "time"
)

// NotificationOutcome records what the service did with an inbound provider
// notification or admin action.
type NotificationOutcome string

const (
    OutcomeApplied           NotificationOutcome = "applied"
    OutcomeDuplicate         NotificationOutcome = "duplicate"
    OutcomeIgnoredTerminal   NotificationOutcome = "ignored_terminal"
    OutcomeIgnoredStale      NotificationOutcome = "ignored_stale"
    OutcomeRejectedSignature NotificationOutcome = "rejected_signature"
    OutcomeUnknownOrder      NotificationOutcome = "unknown_order"
    OutcomeFailed            NotificationOutcome = "failed"
)

// PaymentNotification is the audit record of one webhook delivery.  It is
// written outside the reconciliation transaction so that rejected and failed
// deliveries remain visible.
type PaymentNotification struct {
    ID                uint64              // payment_notifications.id
    OrderID           string              // payment_notifications.order_id
    TransactionStatus string              // payment_notifications.transaction_status
    FraudStatus       *string             // payment_notifications.fraud_status (nullable)
    SignatureValid    bool                // payment_notifications.signature_valid
    Outcome           NotificationOutcome // payment_notifications.outcome
    Detail            *string             // payment_notifications.detail (nullable)
    Payload           json.RawMessage     // payment_notifications.payload (JSON)
    ReceivedAt        time.Time           // payment_notifications.received_at
}
