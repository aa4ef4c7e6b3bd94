package handler

import (
    "encoding/json"
    "time"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

// ledgerEntry is the admin view of one payments row.
type ledgerEntry struct {
    ID            uint64          `json:"id"`
    OrderID       string          `json:"order_id"`
    BookingID     uint64          `json:"booking_id"`
    PaymentMethod string          `json:"payment_method"`
    Amount        decimal.Decimal `json:"amount"`
    Status        string          `json:"status"`
    FraudStatus   *string         `json:"fraud_status"`
    RedirectURL   *string         `json:"redirect_url"`
    RawResponse   json.RawMessage `json:"raw_response,omitempty"`
    LastEventAt   *time.Time      `json:"last_event_at"`
    CreatedAt     time.Time       `json:"created_at"`
    UpdatedAt     time.Time       `json:"updated_at"`
}

func toLedgerEntry(p model.Payment) ledgerEntry {
    return ledgerEntry{
        ID:            p.ID,
        OrderID:       p.OrderID,
        BookingID:     p.BookingID,
        PaymentMethod: p.PaymentMethod,
        Amount:        p.Amount,
        Status:        p.Status,
        FraudStatus:   p.FraudStatus,
        RedirectURL:   p.RedirectURL,
        RawResponse:   p.RawResponse,
        LastEventAt:   p.LastEventAt,
        CreatedAt:     p.CreatedAt,
        UpdatedAt:     p.UpdatedAt,
    }
}

type notificationEntry struct {
    ID                uint64                    `json:"id"`
    TransactionStatus string                    `json:"transaction_status"`
    FraudStatus       *string                   `json:"fraud_status"`
    SignatureValid    bool                      `json:"signature_valid"`
    Outcome           model.NotificationOutcome `json:"outcome"`
    Detail            *string                   `json:"detail"`
    ReceivedAt        time.Time                 `json:"received_at"`
}
