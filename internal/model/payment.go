package model

import (
    "encoding/json"
    "time"

    "github.com/shopspring/decimal"
)

// Provider transaction statuses as reported by the payment gateway.
// Anything else the provider sends is stored verbatim.
const (
    ProviderPending    = "pending"
    ProviderSettlement = "settlement"
    ProviderCapture    = "capture"
    ProviderDeny       = "deny"
    ProviderCancel     = "cancel"
    ProviderExpire     = "expire"
    ProviderFailure    = "failure"
)

// Fraud flags attached to card captures.
const (
    FraudAccept    = "accept"
    FraudChallenge = "challenge"
)

// Payment methods recorded on ledger entries created by this service.
// Provider notifications overwrite the method with their payment_type.
const (
    MethodSnap        = "snap"
    MethodManual      = "manual"
    MethodSelfService = "self_service"
)

// Payment is one ledger entry: a single payment attempt against a booking.
// OrderID is the provider order id and the idempotency key of inbound
// notifications.  The entry most recently updated is the booking's current
// one.
type Payment struct {
    ID            uint64          // payments.id
    OrderID       string          // payments.order_id (unique)
    BookingID     uint64          // payments.booking_id
    PaymentMethod string          // payments.payment_method
    Amount        decimal.Decimal // payments.amount
    Status        string          // payments.status (provider vocabulary)
    FraudStatus   *string         // payments.fraud_status (nullable)
    SnapToken     *string         // payments.snap_token (nullable)
    RedirectURL   *string         // payments.redirect_url (nullable)
    RawResponse   json.RawMessage // payments.raw_response (JSON)
    LastEventAt   *time.Time      // payments.last_event_at (nullable)
    CreatedAt     time.Time       // payments.created_at
    UpdatedAt     time.Time       // payments.updated_at
}
