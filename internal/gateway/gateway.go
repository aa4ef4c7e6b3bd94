// Package gateway talks to the hosted-checkout payment provider.  The
// Gateway interface is what the reconciliation engine depends on;
// SnapGateway is the production implementation.
package gateway

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"
    "unicode/utf8"

    "github.com/shopspring/decimal"
)

// ErrGateway wraps every failure of a provider call: transport errors,
// timeouts, authentication and validation rejections.
var ErrGateway = errors.New("payment gateway error")

// Provider field limits.
const (
    maxNameLen     = 255
    maxEmailLen    = 255
    maxPhoneLen    = 19
    maxItemNameLen = 50
)

// ChargeRequest describes the transaction to open for one booking.
type ChargeRequest struct {
    OrderID       string
    Amount        decimal.Decimal
    ItemID        string
    ItemName      string
    CustomerName  string
    CustomerEmail string
    CustomerPhone string
}

// ChargeResult is what the customer needs to complete the payment.
type ChargeResult struct {
    OrderID     string
    Token       string
    RedirectURL string
    // ClientKey is the public key Snap.js needs to open the payment popup.
    ClientKey string
    // Derived is true when the provider omitted the token and it was
    // computed locally.
    Derived bool
    Raw     json.RawMessage
}

// StatusResult is the provider's current view of a transaction.
type StatusResult struct {
    OrderID           string
    TransactionID     string
    TransactionStatus string
    FraudStatus       string
    StatusCode        string
    GrossAmount       string
    PaymentType       string
    TransactionTime   string
    SettlementTime    string
    Raw               json.RawMessage
}

// Gateway is the provider API used by the reconciliation engine.
type Gateway interface {
    // CreateTransaction opens a provider transaction.  Every call with a
    // different OrderID is a distinct transaction at the provider.
    CreateTransaction(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
    // TransactionStatus asks the provider for the latest status of orderID.
    TransactionStatus(ctx context.Context, orderID string) (*StatusResult, error)
}

// NewOrderID returns ORDER-{bookingID}-{unix millis}.
func NewOrderID(bookingID uint64, now time.Time) string {
    return fmt.Sprintf("ORDER-%d-%d", bookingID, now.UnixMilli())
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
    if utf8.RuneCountInString(s) <= n {
        return s
    }
    r := []rune(s)
    return string(r[:n])
}
