package handler

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

// PaymentEngine is the subset of *service.Reconciler the HTTP layer drives.
type PaymentEngine interface {
    CreatePayment(ctx context.Context, bookingID uint64, caller service.Caller) (service.PaymentIntent, error)
    Reconcile(ctx context.Context, n service.Notification) (service.Result, error)
    ManualReconcile(ctx context.Context, req service.ManualRequest) (service.Result, error)
    SyncFromProvider(ctx context.Context, orderID string) (service.Result, error)
    CancelBooking(ctx context.Context, bookingID uint64, caller service.Caller) (service.Result, error)
}

// PaymentQueries is satisfied by *service.StatusService.
type PaymentQueries interface {
    ByOrderID(ctx context.Context, orderID string, caller service.Caller) (*service.PaymentView, error)
    ByBookingID(ctx context.Context, bookingID uint64, caller service.Caller) (*service.PaymentView, error)
    History(ctx context.Context, bookingID uint64) ([]model.Payment, error)
    BookingStatus(ctx context.Context, bookingID uint64, caller service.Caller) (*service.BookingPaymentStatus, error)
}

// NotificationLog is satisfied by *repository.NotificationRepo.
type NotificationLog interface {
    Record(ctx context.Context, n *model.PaymentNotification) error
    ListByOrderID(ctx context.Context, orderID string) ([]model.PaymentNotification, error)
}

// PaymentHandler serves checkout creation and status queries.
type PaymentHandler struct {
    engine  PaymentEngine
    queries PaymentQueries
    notes   NotificationLog
    log     *logrus.Logger
}

func NewPaymentHandler(engine PaymentEngine, queries PaymentQueries, notes NotificationLog, log *logrus.Logger) *PaymentHandler {
    if engine == nil || queries == nil || notes == nil || log == nil {
        panic("nil dependency passed to NewPaymentHandler")
    }
    return &PaymentHandler{engine: engine, queries: queries, notes: notes, log: log}
}

type createPaymentBody struct {
    BookingID uint64 `json:"booking_id" validate:"required"`
}

// Create handles POST /payment/create with body {"booking_id": n}.
func (h *PaymentHandler) Create(c echo.Context) error {
    var body createPaymentBody
    if err := bindBody(c, &body); err != nil {
        return writeError(c, h.log, err)
    }
    intent, err := h.engine.CreatePayment(c.Request().Context(), body.BookingID, callerFrom(c))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusCreated, intent)
}

// Status handles GET /payment/status/:orderId.
func (h *PaymentHandler) Status(c echo.Context) error {
    orderID := strings.TrimSpace(c.Param("orderId"))
    if orderID == "" {
        return writeError(c, h.log, invalidParam("order_id", "is required"))
    }
    v, err := h.queries.ByOrderID(c.Request().Context(), orderID, callerFrom(c))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusOK, v)
}

// ByBooking handles GET /payment/by-booking/:bookingId.
func (h *PaymentHandler) ByBooking(c echo.Context) error {
    id, valid := parseID(c, "bookingId")
    if !valid {
        return writeError(c, h.log, invalidParam("booking_id", "must be a positive integer"))
    }
    v, err := h.queries.ByBookingID(c.Request().Context(), id, callerFrom(c))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusOK, v)
}

// History handles GET /payment/history/:bookingId (admin).
func (h *PaymentHandler) History(c echo.Context) error {
    id, valid := parseID(c, "bookingId")
    if !valid {
        return writeError(c, h.log, invalidParam("booking_id", "must be a positive integer"))
    }
    rows, err := h.queries.History(c.Request().Context(), id)
    if err != nil {
        return writeError(c, h.log, err)
    }
    out := make([]ledgerEntry, 0, len(rows))
    for _, p := range rows {
        out = append(out, toLedgerEntry(p))
    }
    return respond(c, http.StatusOK, out)
}

// Sync handles POST /payment/sync/:orderId (admin).
func (h *PaymentHandler) Sync(c echo.Context) error {
    orderID := strings.TrimSpace(c.Param("orderId"))
    if orderID == "" {
        return writeError(c, h.log, invalidParam("order_id", "is required"))
    }
    res, err := h.engine.SyncFromProvider(c.Request().Context(), orderID)
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusOK, res)
}

// Notifications handles GET /payment/notifications/:orderId (admin): every
// delivery received for the order, including rejected ones.
func (h *PaymentHandler) Notifications(c echo.Context) error {
    orderID := strings.TrimSpace(c.Param("orderId"))
    if orderID == "" {
        return writeError(c, h.log, invalidParam("order_id", "is required"))
    }
    rows, err := h.notes.ListByOrderID(c.Request().Context(), orderID)
    if err != nil {
        return writeError(c, h.log, err)
    }
    out := make([]notificationEntry, 0, len(rows))
    for _, n := range rows {
        out = append(out, notificationEntry{
            ID:                n.ID,
            TransactionStatus: n.TransactionStatus,
            FraudStatus:       n.FraudStatus,
            SignatureValid:    n.SignatureValid,
            Outcome:           n.Outcome,
            Detail:            n.Detail,
            ReceivedAt:        n.ReceivedAt,
        })
    }
    return respond(c, http.StatusOK, out)
}
