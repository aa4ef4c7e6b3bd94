// Package service holds the payment reconciliation engine: the status
// mapping, the transition policy and the operations that create, reconcile,
// override and cancel payments.  Every mutation runs inside the booking lock
// provided by the booking store.
package service

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/queue"
)

// Event sources.
const (
    SourceWebhook        = "webhook"
    SourceSync           = "sync"
    SourceManual         = "manual"
    SourceCustomerCancel = "customer_cancel"
)

// Notification is a provider status report, already authenticated.
type Notification struct {
    OrderID           string
    TransactionID     string
    TransactionStatus string
    FraudStatus       string
    PaymentType       string
    GrossAmount       string
    StatusCode        string
    // EventTime is the provider timestamp used to discard stale
    // deliveries; nil disables the check for this event.
    EventTime *time.Time
    Raw       json.RawMessage
    Source    string
}

// Result describes what a reconciliation did.
type Result struct {
    OrderID      string                    `json:"order_id"`
    BookingID    uint64                    `json:"booking_id"`
    Mapped       model.PaymentStatus       `json:"mapped_status"`
    Status       model.PaymentStatus       `json:"booking_status"`
    Previous     model.PaymentStatus       `json:"previous_status"`
    LedgerStatus string                    `json:"ledger_status"`
    Outcome      model.NotificationOutcome `json:"outcome"`
}

// ManualRequest is an operator override.  Without OrderID a new MANUAL-
// ledger entry is created for BookingID; with OrderID that entry is
// updated.
type ManualRequest struct {
    BookingID uint64
    OrderID   string
    Status    string
    Amount    *decimal.Decimal
    Note      string
    ActorID   uint64
}

// PaymentIntent is returned to the checkout page.
type PaymentIntent struct {
    OrderID     string `json:"order_id"`
    SnapToken   string `json:"snap_token"`
    RedirectURL string `json:"redirect_url"`
    ClientKey   string `json:"client_key,omitempty"`
}

// Reconciler is the payment state machine.
type Reconciler struct {
    bookings BookingStore
    payments PaymentStore
    gateway  gateway.Gateway
    events   EventPublisher
    log      *logrus.Logger
    now      func() time.Time
}

// NewReconciler wires the engine.  events may be nil, in which case no
// events are published.
func NewReconciler(bookings BookingStore, payments PaymentStore, gw gateway.Gateway, events EventPublisher, log *logrus.Logger) *Reconciler {
    if bookings == nil || payments == nil || gw == nil || log == nil {
        panic("nil dependency passed to NewReconciler")
    }
    return &Reconciler{
        bookings: bookings,
        payments: payments,
        gateway:  gw,
        events:   events,
        log:      log,
        now:      func() time.Time { return time.Now().UTC() },
    }
}

// transition is one requested change of a ledger entry and its booking.
type transition struct {
    target   model.PaymentStatus
    ledger   string
    fraud    *string
    method   string
    amount   *decimal.Decimal
    raw      json.RawMessage
    eventAt  *time.Time
    override bool
}

// applyTransition is the only code path that writes a booking's payment
// status.  It must run under the booking lock with b read under that lock.
//
// Without override, a provider event older than the entry's last applied
// event is ignored, and a terminal booking only accepts events that map to
// its current status.  Accepted events update the ledger entry; the booking
// is written only when its status changes.
func (r *Reconciler) applyTransition(ctx context.Context, tx *sql.Tx, b *model.Booking, p *model.Payment, t transition) (Result, error) {
    res := Result{
        OrderID:      p.OrderID,
        BookingID:    b.ID,
        Mapped:       t.target,
        Status:       b.PaymentStatus,
        Previous:     b.PaymentStatus,
        LedgerStatus: p.Status,
    }

    if !t.override {
        if t.eventAt != nil && p.LastEventAt != nil && t.eventAt.Before(*p.LastEventAt) {
            res.Outcome = model.OutcomeIgnoredStale
            return res, nil
        }
        if b.PaymentStatus.IsTerminal() && t.target != b.PaymentStatus {
            res.Outcome = model.OutcomeIgnoredTerminal
            return res, nil
        }
    }

    p.Status = t.ledger
    p.FraudStatus = t.fraud
    if t.method != "" {
        p.PaymentMethod = t.method
    }
    if t.amount != nil {
        p.Amount = *t.amount
    }
    if len(t.raw) > 0 {
        p.RawResponse = t.raw
    }
    if t.eventAt != nil {
        p.LastEventAt = t.eventAt
    }
    if err := r.payments.UpsertTx(ctx, tx, p); err != nil {
        return res, fmt.Errorf("write ledger entry %s: %w", p.OrderID, err)
    }
    res.LedgerStatus = p.Status

    if t.target == b.PaymentStatus {
        res.Outcome = model.OutcomeDuplicate
        return res, nil
    }
    if err := r.bookings.UpdatePaymentStatusTx(ctx, tx, b.ID, t.target); err != nil {
        return res, fmt.Errorf("write booking %d status: %w", b.ID, err)
    }
    b.PaymentStatus = t.target
    res.Status = t.target
    res.Outcome = model.OutcomeApplied
    return res, nil
}

// Reconcile applies a provider notification to its ledger entry and
// booking.  Unknown order ids fail with ErrPaymentNotFound and write
// nothing.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Result, error) {
    orderID := strings.TrimSpace(n.OrderID)
    if orderID == "" {
        return Result{}, &ValidationError{Fields: map[string]string{"order_id": "is required"}}
    }
    fields := logrus.Fields{"order_id": orderID, "transaction_status": n.TransactionStatus, "source": n.Source}

    p, err := r.payments.FindByOrderID(ctx, orderID)
    if err != nil {
        if errors.Is(err, ErrPaymentNotFound) {
            r.log.WithFields(fields).Info("[payment][reconcile] notification for unknown order")
        }
        return Result{}, err
    }

    ledger := normalize(n.TransactionStatus)
    if ledger == "" {
        ledger = model.ProviderPending
    }
    t := transition{
        target:  MapStatus(n.TransactionStatus, n.FraudStatus),
        ledger:  ledger,
        fraud:   optional(normalize(n.FraudStatus)),
        method:  strings.TrimSpace(n.PaymentType),
        raw:     n.Raw,
        eventAt: n.EventTime,
    }

    var res Result
    err = r.bookings.WithBookingLock(ctx, p.BookingID, func(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
        cur, err := r.payments.FindByOrderIDTx(ctx, tx, orderID)
        if err != nil {
            return err
        }
        res, err = r.applyTransition(ctx, tx, b, cur, t)
        return err
    })
    if err != nil {
        r.log.WithFields(fields).WithField("booking_id", p.BookingID).WithError(err).Error("[payment][reconcile] reconciliation failed")
        return Result{}, err
    }

    entry := r.log.WithFields(fields).WithFields(logrus.Fields{
        "booking_id": res.BookingID,
        "mapped":     res.Mapped,
        "status":     res.Status,
        "outcome":    res.Outcome,
    })
    switch {
    case res.Outcome == model.OutcomeIgnoredStale, res.Outcome == model.OutcomeIgnoredTerminal:
        entry.Warn("[payment][reconcile] notification ignored")
    case res.Outcome == model.OutcomeDuplicate && res.Mapped == model.PaymentPaid:
        if other := r.paidByOtherOrder(ctx, res.BookingID, orderID); other != "" {
            entry.WithField("paid_order_id", other).Warn("[payment][reconcile] booking already paid by another order, possible double charge")
            break
        }
        entry.Info("[payment][reconcile] notification processed")
    default:
        entry.Info("[payment][reconcile] notification processed")
    }
    r.publish(ctx, res, firstNonEmpty(n.Source, SourceWebhook), 0)
    return res, nil
}

// ManualReconcile forces a status on behalf of an operator, for offline or
// otherwise confirmed payments.  It uses the same mapping and the same
// transition path as Reconcile but bypasses the stale and terminal guards.
func (r *Reconciler) ManualReconcile(ctx context.Context, req ManualRequest) (Result, error) {
    req.OrderID = strings.TrimSpace(req.OrderID)
    status := normalize(req.Status)
    if status == "" && req.OrderID == "" {
        status = string(model.PaymentPaid)
    }

    v := validation{}
    switch {
    case status == "":
        v["final_status"] = "is required"
    case !knownStatus(status):
        v["final_status"] = "must be one of pending, paid, cancelled, expired or a provider status"
    }
    if req.OrderID == "" && req.BookingID == 0 {
        v["booking_id"] = "is required"
    }
    if req.Amount != nil && !req.Amount.IsPositive() {
        v["amount"] = "must be greater than zero"
    }
    if err := v.err(); err != nil {
        return Result{}, err
    }

    bookingID := req.BookingID
    if req.OrderID != "" {
        p, err := r.payments.FindByOrderID(ctx, req.OrderID)
        if err != nil {
            return Result{}, err
        }
        if bookingID != 0 && bookingID != p.BookingID {
            return Result{}, &ValidationError{Fields: map[string]string{"booking_id": "does not match order_id"}}
        }
        bookingID = p.BookingID
    }

    target := MapStatus(status, "")
    ledger := status
    if model.PaymentStatus(status).Valid() {
        ledger = ProviderStatusFor(target)
    }
    now := r.now()
    raw, err := json.Marshal(map[string]any{
        "source":       SourceManual,
        "final_status": status,
        "note":         req.Note,
        "admin_id":     req.ActorID,
        "at":           now.Format(time.RFC3339),
    })
    if err != nil {
        return Result{}, err
    }

    var res Result
    err = r.bookings.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
        t := transition{target: target, ledger: ledger, amount: req.Amount, raw: raw, eventAt: &now, override: true}
        var p *model.Payment
        if req.OrderID != "" {
            var err error
            if p, err = r.payments.FindByOrderIDTx(ctx, tx, req.OrderID); err != nil {
                return err
            }
        } else {
            p = &model.Payment{
                OrderID:   fmt.Sprintf("MANUAL-%d-%d", b.ID, now.UnixMilli()),
                BookingID: b.ID,
                Amount:    b.TotalAmount,
            }
            t.method = model.MethodManual
        }
        var err error
        res, err = r.applyTransition(ctx, tx, b, p, t)
        return err
    })
    if err != nil {
        r.log.WithFields(logrus.Fields{"booking_id": bookingID, "order_id": req.OrderID, "admin_id": req.ActorID}).
            WithError(err).Error("[payment][manual] override failed")
        return Result{}, err
    }

    r.log.WithFields(logrus.Fields{
        "booking_id": res.BookingID,
        "order_id":   res.OrderID,
        "admin_id":   req.ActorID,
        "previous":   res.Previous,
        "status":     res.Status,
    }).Info("[payment][manual] override applied")
    r.publish(ctx, res, SourceManual, req.ActorID)
    return res, nil
}

// CreatePayment opens a provider transaction for the booking and records it
// as a new pending ledger entry.  Earlier checkouts keep their entries, so a
// late payment on a superseded order still reconciles.  A gateway failure
// writes nothing.
func (r *Reconciler) CreatePayment(ctx context.Context, bookingID uint64, caller Caller) (PaymentIntent, error) {
    var intent PaymentIntent
    err := r.bookings.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
        if !caller.IsAdmin() && !caller.Owns(b) {
            return ErrForbidden
        }
        if b.PaymentStatus != model.PaymentPending {
            return ErrNotPayable
        }

        pkg, err := r.bookings.GetPackageTx(ctx, tx, b.PackageID)
        if err != nil && !errors.Is(err, ErrPackageNotFound) {
            return err
        }
        v := validation{}
        if !b.TotalAmount.IsPositive() {
            v["total_amount"] = "must be greater than zero"
        }
        if pkg == nil || !pkg.Price.IsPositive() {
            v["package_id"] = "package price could not be resolved"
        }
        v.require("customer_name", b.CustomerName)
        v.require("customer_email", b.CustomerEmail)
        v.require("customer_phone", b.CustomerPhone)
        if err := v.err(); err != nil {
            return err
        }

        charge, err := r.gateway.CreateTransaction(ctx, gateway.ChargeRequest{
            OrderID:       gateway.NewOrderID(b.ID, r.now()),
            Amount:        b.TotalAmount,
            ItemID:        fmt.Sprintf("PKG-%d", pkg.ID),
            ItemName:      fmt.Sprintf("%s (%d pax)", pkg.Name, b.Participants),
            CustomerName:  b.CustomerName,
            CustomerEmail: b.CustomerEmail,
            CustomerPhone: b.CustomerPhone,
        })
        if err != nil {
            return err
        }

        p := &model.Payment{
            OrderID:       charge.OrderID,
            BookingID:     b.ID,
            PaymentMethod: model.MethodSnap,
            Amount:        b.TotalAmount,
            Status:        model.ProviderPending,
            SnapToken:     optional(charge.Token),
            RedirectURL:   optional(charge.RedirectURL),
            RawResponse:   charge.Raw,
        }
        if err := r.payments.UpsertTx(ctx, tx, p); err != nil {
            r.log.WithFields(logrus.Fields{"booking_id": b.ID, "order_id": charge.OrderID}).WithError(err).
                Error("[payment][create] provider transaction opened but ledger write failed")
            return fmt.Errorf("record payment %s: %w", charge.OrderID, err)
        }

        intent = PaymentIntent{
            OrderID:     charge.OrderID,
            SnapToken:   charge.Token,
            RedirectURL: charge.RedirectURL,
            ClientKey:   charge.ClientKey,
        }
        return nil
    })
    if err != nil {
        return PaymentIntent{}, err
    }

    r.log.WithFields(logrus.Fields{"booking_id": bookingID, "order_id": intent.OrderID}).Info("[payment][create] payment created")
    return intent, nil
}

// CancelBooking is the customer's self-service cancel.  Only the owner may
// cancel, and only while the booking is pending.  The cancel is written to
// the current ledger entry, or to a new CANCEL- entry when the booking was
// never sent to checkout.
func (r *Reconciler) CancelBooking(ctx context.Context, bookingID uint64, caller Caller) (Result, error) {
    if !caller.Authenticated {
        return Result{}, ErrForbidden
    }
    now := r.now()
    raw, err := json.Marshal(map[string]any{
        "source":  SourceCustomerCancel,
        "user_id": caller.UserID,
        "at":      now.Format(time.RFC3339),
    })
    if err != nil {
        return Result{}, err
    }

    var res Result
    err = r.bookings.WithBookingLock(ctx, bookingID, func(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
        if !caller.Owns(b) {
            return ErrForbidden
        }
        if b.PaymentStatus != model.PaymentPending {
            return ErrNotCancellable
        }
        t := transition{
            target:   model.PaymentCancelled,
            ledger:   model.ProviderCancel,
            raw:      raw,
            eventAt:  &now,
            override: true,
        }
        p, err := r.payments.FindLatestByBookingIDTx(ctx, tx, b.ID)
        switch {
        case errors.Is(err, ErrPaymentNotFound):
            p = &model.Payment{
                OrderID:   fmt.Sprintf("CANCEL-%d-%d", b.ID, now.UnixMilli()),
                BookingID: b.ID,
                Amount:    b.TotalAmount,
            }
            t.method = model.MethodSelfService
        case err != nil:
            return err
        }
        res, err = r.applyTransition(ctx, tx, b, p, t)
        return err
    })
    if err != nil {
        return Result{}, err
    }

    r.log.WithFields(logrus.Fields{"booking_id": res.BookingID, "order_id": res.OrderID, "user_id": caller.UserID}).
        Info("[payment][cancel] booking cancelled by customer")
    r.publish(ctx, res, SourceCustomerCancel, caller.UserID)
    return res, nil
}

// SyncFromProvider pulls the provider's current status for orderID and
// reconciles it like a notification.
func (r *Reconciler) SyncFromProvider(ctx context.Context, orderID string) (Result, error) {
    if _, err := r.payments.FindByOrderID(ctx, orderID); err != nil {
        return Result{}, err
    }
    st, err := r.gateway.TransactionStatus(ctx, orderID)
    if err != nil {
        return Result{}, err
    }
    return r.Reconcile(ctx, Notification{
        OrderID:           orderID,
        TransactionID:     st.TransactionID,
        TransactionStatus: st.TransactionStatus,
        FraudStatus:       st.FraudStatus,
        PaymentType:       st.PaymentType,
        GrossAmount:       st.GrossAmount,
        StatusCode:        st.StatusCode,
        EventTime:         gateway.EventTime(st.SettlementTime, st.TransactionTime),
        Raw:               st.Raw,
        Source:            SourceSync,
    })
}

// paidByOtherOrder returns the order id of another ledger entry of the
// booking that maps to paid, or "" when there is none or the ledger cannot
// be read.
func (r *Reconciler) paidByOtherOrder(ctx context.Context, bookingID uint64, orderID string) string {
    rows, err := r.payments.ListByBookingID(ctx, bookingID)
    if err != nil {
        r.log.WithError(err).WithField("booking_id", bookingID).Warn("[payment][reconcile] ledger lookup failed")
        return ""
    }
    for _, p := range rows {
        fraud := ""
        if p.FraudStatus != nil {
            fraud = *p.FraudStatus
        }
        if p.OrderID != orderID && MapStatus(p.Status, fraud) == model.PaymentPaid {
            return p.OrderID
        }
    }
    return ""
}

// publish emits a PaymentReconciledEvent for applied transitions.  It runs
// after commit; a failure is logged and does not affect the result.
func (r *Reconciler) publish(ctx context.Context, res Result, source string, actorID uint64) {
    if r.events == nil || res.Outcome != model.OutcomeApplied {
        return
    }
    ev := queue.PaymentReconciledEvent{
        EventID:        uuid.NewString(),
        OrderID:        res.OrderID,
        BookingID:      res.BookingID,
        PreviousStatus: string(res.Previous),
        Status:         string(res.Status),
        LedgerStatus:   res.LedgerStatus,
        Source:         source,
        ActorID:        actorID,
        OccurredAt:     r.now().Format(time.RFC3339),
    }
    pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
    defer cancel()
    if err := r.events.PublishPaymentReconciled(pctx, ev); err != nil {
        r.log.WithFields(logrus.Fields{"order_id": res.OrderID, "booking_id": res.BookingID}).WithError(err).
            Warn("[payment][events] publish failed")
    }
}

func optional(s string) *string {
    if s == "" {
        return nil
    }
    return &s
}

func firstNonEmpty(vals ...string) string {
    for _, v := range vals {
        if v != "" {
            return v
        }
    }
    return ""
}
