package handler

import (
    "context"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
    "github.com/sirupsen/logrus/hooks/test"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/travel-payment-reconciliation/internal/middleware"
    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
    "github.com/iliyamo/travel-payment-reconciliation/internal/utils"
)

const jwtSecret = "handler-test-secret"

// fakeEngine records the calls it receives and answers with the configured
// result or error.
type fakeEngine struct {
    mu            sync.Mutex
    notifications []service.Notification
    manual        []service.ManualRequest
    callers       []service.Caller

    intent service.PaymentIntent
    result service.Result
    err    error
}

func (f *fakeEngine) CreatePayment(_ context.Context, bookingID uint64, caller service.Caller) (service.PaymentIntent, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.callers = append(f.callers, caller)
    return f.intent, f.err
}

func (f *fakeEngine) Reconcile(_ context.Context, n service.Notification) (service.Result, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.notifications = append(f.notifications, n)
    return f.result, f.err
}

func (f *fakeEngine) ManualReconcile(_ context.Context, req service.ManualRequest) (service.Result, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.manual = append(f.manual, req)
    return f.result, f.err
}

func (f *fakeEngine) SyncFromProvider(context.Context, string) (service.Result, error) {
    return f.result, f.err
}

func (f *fakeEngine) CancelBooking(_ context.Context, _ uint64, caller service.Caller) (service.Result, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.callers = append(f.callers, caller)
    return f.result, f.err
}

// fakeQueries applies the same visibility rules as service.StatusService
// to a single fixed booking.
type fakeQueries struct {
    booking model.Booking
    payment model.Payment
}

func (q *fakeQueries) ByOrderID(_ context.Context, orderID string, caller service.Caller) (*service.PaymentView, error) {
    if orderID != q.payment.OrderID {
        return nil, service.ErrPaymentNotFound
    }
    return q.view(caller)
}

func (q *fakeQueries) ByBookingID(_ context.Context, bookingID uint64, caller service.Caller) (*service.PaymentView, error) {
    if bookingID != q.booking.ID {
        return nil, service.ErrPaymentNotFound
    }
    return q.view(caller)
}

func (q *fakeQueries) History(_ context.Context, bookingID uint64) ([]model.Payment, error) {
    if bookingID != q.booking.ID {
        return nil, service.ErrBookingNotFound
    }
    return []model.Payment{q.payment}, nil
}

func (q *fakeQueries) BookingStatus(_ context.Context, bookingID uint64, caller service.Caller) (*service.BookingPaymentStatus, error) {
    if bookingID != q.booking.ID {
        return nil, service.ErrBookingNotFound
    }
    if !caller.IsAdmin() && !caller.Owns(&q.booking) {
        return nil, service.ErrForbidden
    }
    return &service.BookingPaymentStatus{BookingID: q.booking.ID, PaymentStatus: q.booking.PaymentStatus, TotalAmount: q.booking.TotalAmount}, nil
}

func (q *fakeQueries) view(caller service.Caller) (*service.PaymentView, error) {
    full := caller.IsAdmin() || caller.Owns(&q.booking)
    if caller.Authenticated && !full {
        return nil, service.ErrForbidden
    }
    v := &service.PaymentView{
        OrderID:        q.payment.OrderID,
        Status:         service.MapStatus(q.payment.Status, ""),
        ProviderStatus: q.payment.Status,
        Amount:         q.payment.Amount,
        BookingID:      q.booking.ID,
        CustomerName:   q.booking.CustomerName,
        CustomerEmail:  q.booking.CustomerEmail,
    }
    if !full {
        v.CustomerEmail = utils.RedactEmail(v.CustomerEmail)
    }
    return v, nil
}

type fakeNotes struct {
    mu      sync.Mutex
    records []model.PaymentNotification
}

func (n *fakeNotes) Record(_ context.Context, rec *model.PaymentNotification) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    rec.ID = uint64(len(n.records) + 1)
    n.records = append(n.records, *rec)
    return nil
}

func (n *fakeNotes) ListByOrderID(_ context.Context, orderID string) ([]model.PaymentNotification, error) {
    n.mu.Lock()
    defer n.mu.Unlock()
    var out []model.PaymentNotification
    for _, r := range n.records {
        if r.OrderID == orderID {
            out = append(out, r)
        }
    }
    return out, nil
}

func nullLogger() *logrus.Logger {
    log, _ := test.NewNullLogger()
    return log
}

func bearer(t *testing.T, uid uint64, role string) string {
    t.Helper()
    tok, err := utils.NewAccessToken(jwtSecret, uid, role, time.Hour)
    require.NoError(t, err)
    return "Bearer " + tok
}

func do(e *echo.Echo, method, path, body, auth string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, path, strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    if auth != "" {
        req.Header.Set(echo.HeaderAuthorization, auth)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

var (
    authRequired = middleware.JWTAuth(jwtSecret)
    authOptional = middleware.OptionalJWT(jwtSecret)
    adminOnly    = middleware.RequireRole(service.RoleAdmin)
)
