package handler

import (
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

const maxNotificationBytes = 1 << 20

// NotificationHandler receives provider webhooks.  Every delivery with an
// order id is recorded in the notification log, whatever its outcome.
type NotificationHandler struct {
    engine           PaymentEngine
    notes            NotificationLog
    serverKey        string
    requireSignature bool
    log              *logrus.Logger
}

func NewNotificationHandler(engine PaymentEngine, notes NotificationLog, serverKey string, requireSignature bool, log *logrus.Logger) *NotificationHandler {
    if engine == nil || notes == nil || log == nil {
        panic("nil dependency passed to NewNotificationHandler")
    }
    return &NotificationHandler{
        engine:           engine,
        notes:            notes,
        serverKey:        serverKey,
        requireSignature: requireSignature,
        log:              log,
    }
}

type notificationBody struct {
    OrderID           string `json:"order_id"`
    TransactionID     string `json:"transaction_id"`
    TransactionStatus string `json:"transaction_status"`
    FraudStatus       string `json:"fraud_status"`
    PaymentType       string `json:"payment_type"`
    StatusCode        string `json:"status_code"`
    GrossAmount       string `json:"gross_amount"`
    SignatureKey      string `json:"signature_key"`
    TransactionTime   string `json:"transaction_time"`
    SettlementTime    string `json:"settlement_time"`
}

// Handle serves POST /payment/notification.  The provider retries anything
// that is not a 2xx, so only malformed bodies (400), bad signatures (401)
// and lock contention (503) are answered with an error.
func (h *NotificationHandler) Handle(c echo.Context) error {
    raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxNotificationBytes))
    if err != nil {
        return fail(c, http.StatusBadRequest, "unreadable body")
    }
    var body notificationBody
    if err := json.Unmarshal(raw, &body); err != nil {
        return fail(c, http.StatusBadRequest, "invalid JSON")
    }
    body.OrderID = strings.TrimSpace(body.OrderID)
    if body.OrderID == "" {
        return fail(c, http.StatusBadRequest, "order_id is required")
    }

    ctx := c.Request().Context()
    fields := logrus.Fields{
        "order_id":           body.OrderID,
        "transaction_status": body.TransactionStatus,
        "fraud_status":       body.FraudStatus,
        "remote_ip":          c.RealIP(),
    }
    rec := &model.PaymentNotification{
        OrderID:           body.OrderID,
        TransactionStatus: body.TransactionStatus,
        FraudStatus:       nonEmpty(body.FraudStatus),
        Payload:           raw,
    }

    rec.SignatureValid = gateway.VerifySignature(body.OrderID, body.StatusCode, body.GrossAmount, h.serverKey, body.SignatureKey)
    if !rec.SignatureValid {
        if h.requireSignature {
            h.log.WithFields(fields).Warn("[payment][webhook] invalid signature; notification rejected")
            rec.Outcome = model.OutcomeRejectedSignature
            h.record(c, rec)
            return writeError(c, h.log, service.ErrSignatureInvalid)
        }
        h.log.WithFields(fields).Warn("[payment][webhook] signature not verified; verification is disabled")
    }

    res, err := h.engine.Reconcile(ctx, service.Notification{
        OrderID:           body.OrderID,
        TransactionID:     body.TransactionID,
        TransactionStatus: body.TransactionStatus,
        FraudStatus:       body.FraudStatus,
        PaymentType:       body.PaymentType,
        GrossAmount:       body.GrossAmount,
        StatusCode:        body.StatusCode,
        EventTime:         gateway.EventTime(body.SettlementTime, body.TransactionTime),
        Raw:               raw,
        Source:            service.SourceWebhook,
    })
    switch {
    case err == nil:
        rec.Outcome = res.Outcome
    case errors.Is(err, service.ErrPaymentNotFound):
        rec.Outcome = model.OutcomeUnknownOrder
    case errors.Is(err, service.ErrConcurrencyConflict):
        rec.Outcome = model.OutcomeFailed
        rec.Detail = nonEmpty(err.Error())
        h.record(c, rec)
        h.log.WithFields(fields).WithError(err).Warn("[payment][webhook] booking busy; asking provider to retry")
        return fail(c, http.StatusServiceUnavailable, "busy, retry later")
    default:
        rec.Outcome = model.OutcomeFailed
        rec.Detail = nonEmpty(err.Error())
        h.log.WithFields(fields).WithError(err).Error("[payment][webhook] reconciliation failed")
    }
    h.record(c, rec)
    return c.String(http.StatusOK, "OK")
}

func (h *NotificationHandler) record(c echo.Context, n *model.PaymentNotification) {
    if err := h.notes.Record(c.Request().Context(), n); err != nil {
        h.log.WithField("order_id", n.OrderID).WithError(err).Error("[payment][webhook] failed to record notification")
    }
}

func nonEmpty(s string) *string {
    s = strings.TrimSpace(s)
    if s == "" {
        return nil
    }
    return &s
}
