package service

import (
    "context"
    "time"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/utils"
)

// PaymentView is the normalized status of one ledger entry.
type PaymentView struct {
    OrderID        string              `json:"orderId"`
    Status         model.PaymentStatus `json:"status"`
    ProviderStatus string              `json:"providerStatus"`
    Amount         decimal.Decimal     `json:"amount"`
    BookingID      uint64              `json:"bookingId"`
    BookingStatus  model.PaymentStatus `json:"bookingStatus"`
    CustomerName   string              `json:"customerName"`
    CustomerEmail  string              `json:"customerEmail"`
    PaymentDate    *time.Time          `json:"paymentDate"`
}

// BookingPaymentStatus is the booking's payment_status projection.
type BookingPaymentStatus struct {
    BookingID     uint64              `json:"booking_id"`
    BookingCode   string              `json:"booking_code"`
    PaymentStatus model.PaymentStatus `json:"payment_status"`
    TotalAmount   decimal.Decimal     `json:"total_amount"`
}

// StatusService answers read-only payment queries.
type StatusService struct {
    bookings BookingStore
    payments PaymentStore
}

func NewStatusService(bookings BookingStore, payments PaymentStore) *StatusService {
    if bookings == nil || payments == nil {
        panic("nil store passed to NewStatusService")
    }
    return &StatusService{bookings: bookings, payments: payments}
}

// ByOrderID returns the status of one ledger entry.
func (s *StatusService) ByOrderID(ctx context.Context, orderID string, caller Caller) (*PaymentView, error) {
    p, err := s.payments.FindByOrderID(ctx, orderID)
    if err != nil {
        return nil, err
    }
    return s.view(ctx, p, caller)
}

// ByBookingID returns the status of the booking's current ledger entry.
func (s *StatusService) ByBookingID(ctx context.Context, bookingID uint64, caller Caller) (*PaymentView, error) {
    p, err := s.payments.FindLatestByBookingID(ctx, bookingID)
    if err != nil {
        return nil, err
    }
    return s.view(ctx, p, caller)
}

// History lists every ledger entry of a booking, newest first.  Admin only;
// the route enforces the role.
func (s *StatusService) History(ctx context.Context, bookingID uint64) ([]model.Payment, error) {
    if _, err := s.bookings.GetByID(ctx, bookingID); err != nil {
        return nil, err
    }
    return s.payments.ListByBookingID(ctx, bookingID)
}

// BookingStatus returns the payment_status projection to the owner or an
// admin.
func (s *StatusService) BookingStatus(ctx context.Context, bookingID uint64, caller Caller) (*BookingPaymentStatus, error) {
    b, err := s.bookings.GetByID(ctx, bookingID)
    if err != nil {
        return nil, err
    }
    if !caller.IsAdmin() && !caller.Owns(b) {
        return nil, ErrForbidden
    }
    return &BookingPaymentStatus{
        BookingID:     b.ID,
        BookingCode:   b.Code,
        PaymentStatus: b.PaymentStatus,
        TotalAmount:   b.TotalAmount,
    }, nil
}

// view applies the visibility rules: owners and admins see everything,
// other signed-in users are refused, anonymous callers get the status with
// the email redacted.
func (s *StatusService) view(ctx context.Context, p *model.Payment, caller Caller) (*PaymentView, error) {
    b, err := s.bookings.GetByID(ctx, p.BookingID)
    if err != nil {
        return nil, err
    }
    full := caller.IsAdmin() || caller.Owns(b)
    if caller.Authenticated && !full {
        return nil, ErrForbidden
    }

    fraud := ""
    if p.FraudStatus != nil {
        fraud = *p.FraudStatus
    }
    v := &PaymentView{
        OrderID:        p.OrderID,
        Status:         MapStatus(p.Status, fraud),
        ProviderStatus: p.Status,
        Amount:         p.Amount,
        BookingID:      b.ID,
        BookingStatus:  b.PaymentStatus,
        CustomerName:   b.CustomerName,
        CustomerEmail:  b.CustomerEmail,
    }
    if v.Status == model.PaymentPaid {
        paid := p.UpdatedAt
        if p.LastEventAt != nil {
            paid = *p.LastEventAt
        }
        v.PaymentDate = &paid
    }
    if !full {
        v.CustomerEmail = utils.RedactEmail(b.CustomerEmail)
    }
    return v, nil
}
