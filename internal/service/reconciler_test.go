package service

import (
    "context"
    "fmt"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/shopspring/decimal"
    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

func TestReconciler_EndToEnd(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()

    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)
    assert.True(t, strings.HasPrefix(intent.OrderID, "ORDER-42-"), intent.OrderID)
    assert.Equal(t, "tok-"+intent.OrderID, intent.SnapToken)
    assert.NotEmpty(t, intent.RedirectURL)
    assert.Equal(t, "SB-Mid-client-test", intent.ClientKey)

    rows := f.store.ledger(42)
    require.Len(t, rows, 1)
    assert.Equal(t, model.ProviderPending, rows[0].Status)
    assert.Equal(t, intent.OrderID, rows[0].OrderID)
    assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(300000)))

    require.Len(t, f.gw.charges, 1)
    assert.True(t, f.gw.charges[0].Amount.Equal(decimal.NewFromInt(300000)))
    assert.Equal(t, "Komodo Sailing (2 pax)", f.gw.charges[0].ItemName)

    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.PaymentPaid, res.Status)
    assert.Equal(t, model.OutcomeApplied, res.Outcome)
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)

    res, err = f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.PaymentPaid, res.Status)
    assert.Equal(t, model.OutcomeDuplicate, res.Outcome)
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)
    assert.Len(t, f.store.ledger(42), 1)

    assert.Equal(t, 1, f.pub.count(), "only the applied transition is published")
    ev := f.pub.events[0]
    assert.Equal(t, "pending", ev.PreviousStatus)
    assert.Equal(t, "paid", ev.Status)
    assert.Equal(t, SourceWebhook, ev.Source)
    assert.NotEmpty(t, ev.EventID)
}

func TestReconciler_ReconcileMapsEveryProviderStatus(t *testing.T) {
    tests := []struct {
        status string
        fraud  string
        want   model.PaymentStatus
    }{
        {"capture", "accept", model.PaymentPaid},
        {"capture", "challenge", model.PaymentPending},
        {"settlement", "", model.PaymentPaid},
        {"deny", "", model.PaymentCancelled},
        {"cancel", "", model.PaymentCancelled},
        {"expire", "", model.PaymentExpired},
        {"failure", "", model.PaymentPending},
    }
    for _, tc := range tests {
        t.Run(tc.status+"/"+tc.fraud, func(t *testing.T) {
            f := newFixture(t)
            intent, err := f.rec.CreatePayment(context.Background(), 42, owner)
            require.NoError(t, err)

            n := webhook(intent.OrderID, tc.status)
            n.FraudStatus = tc.fraud
            res, err := f.rec.Reconcile(context.Background(), n)
            require.NoError(t, err)
            assert.Equal(t, tc.want, res.Mapped)
            assert.Equal(t, tc.want, f.store.booking(42).PaymentStatus)

            row := f.store.ledger(42)[0]
            assert.Equal(t, tc.status, row.Status)
            if tc.fraud != "" {
                require.NotNil(t, row.FraudStatus)
                assert.Equal(t, tc.fraud, *row.FraudStatus)
            }
        })
    }
}

func TestReconciler_UnknownOrder(t *testing.T) {
    f := newFixture(t)

    _, err := f.rec.Reconcile(context.Background(), webhook("ORDER-999-1", "settlement"))
    assert.ErrorIs(t, err, ErrPaymentNotFound)
    assert.Empty(t, f.store.ledger(42))
    assert.Equal(t, int64(0), f.store.lockCalls.Load())
}

func TestReconciler_MissingOrderID(t *testing.T) {
    f := newFixture(t)

    _, err := f.rec.Reconcile(context.Background(), webhook("  ", "settlement"))
    assert.ErrorIs(t, err, ErrValidation)
}

func TestReconciler_TerminalBookingIgnoresLaterEvents(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    _, err = f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)

    for _, late := range []string{"pending", "expire", "cancel"} {
        res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, late))
        require.NoError(t, err)
        assert.Equal(t, model.OutcomeIgnoredTerminal, res.Outcome, late)
        assert.Equal(t, model.PaymentPaid, res.Status)
    }
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)
    assert.Equal(t, "settlement", f.store.ledger(42)[0].Status)
}

func TestReconciler_CaptureThenSettlementRefreshesLedger(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    capture := webhook(intent.OrderID, "capture")
    capture.FraudStatus = "accept"
    _, err = f.rec.Reconcile(ctx, capture)
    require.NoError(t, err)

    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeDuplicate, res.Outcome)
    assert.Equal(t, "settlement", f.store.ledger(42)[0].Status)
    assert.Nil(t, f.store.ledger(42)[0].FraudStatus)
}

func TestReconciler_StaleEventIgnored(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    challenge := webhook(intent.OrderID, "capture")
    challenge.FraudStatus = "challenge"
    challenge.EventTime = gateway.ParseTime("2024-11-07 10:05:00")
    _, err = f.rec.Reconcile(ctx, challenge)
    require.NoError(t, err)

    older := webhook(intent.OrderID, "expire")
    older.EventTime = gateway.ParseTime("2024-11-07 10:00:00")
    res, err := f.rec.Reconcile(ctx, older)
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeIgnoredStale, res.Outcome)
    assert.Equal(t, model.PaymentPending, f.store.booking(42).PaymentStatus)
    assert.Equal(t, "capture", f.store.ledger(42)[0].Status)

    newer := webhook(intent.OrderID, "settlement")
    newer.EventTime = gateway.ParseTime("2024-11-07 10:06:00")
    res, err = f.rec.Reconcile(ctx, newer)
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeApplied, res.Outcome)
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)
}

func TestReconciler_ExpiryThenManualOverride(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "expire"))
    require.NoError(t, err)
    assert.Equal(t, model.PaymentExpired, res.Status)

    res, err = f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 42, Status: "paid", Note: "paid cash at office", ActorID: adminID})
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeApplied, res.Outcome)
    assert.Equal(t, model.PaymentExpired, res.Previous)
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)

    rows := f.store.ledger(42)
    require.Len(t, rows, 2)
    manual := rows[1]
    assert.True(t, strings.HasPrefix(manual.OrderID, "MANUAL-42-"), manual.OrderID)
    assert.Equal(t, model.MethodManual, manual.PaymentMethod)
    assert.Equal(t, model.ProviderSettlement, manual.Status)
    assert.True(t, manual.Amount.Equal(decimal.NewFromInt(300000)))
    assert.Contains(t, string(manual.RawResponse), `"note":"paid cash at office"`)
    assert.Contains(t, string(manual.RawResponse), `"admin_id":1`)

    latest, err := f.store.FindLatestByBookingID(ctx, 42)
    require.NoError(t, err)
    assert.Equal(t, manual.OrderID, latest.OrderID)
}

func TestReconciler_ManualAndWebhookParity(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    uid := ownerID
    f.store.addBooking(model.Booking{ID: 43, UserID: &uid, PackageID: 3, CustomerName: "Jane Doe",
        CustomerEmail: "jane@example.com", CustomerPhone: "0812", Participants: 2, TotalAmount: decimal.NewFromInt(300000)})

    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)
    viaWebhook, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)

    viaManual, err := f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 43, Status: "paid", ActorID: adminID})
    require.NoError(t, err)

    assert.Equal(t, viaWebhook.Status, viaManual.Status)
    assert.Equal(t, viaWebhook.Outcome, viaManual.Outcome)
    assert.Equal(t, f.store.booking(42).PaymentStatus, f.store.booking(43).PaymentStatus)
    assert.Equal(t, f.store.ledger(42)[0].Status, f.store.ledger(43)[0].Status)
    assert.Len(t, f.store.ledger(43), 1)
}

func TestReconciler_ManualUpdateExistingOrder(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    amount := decimal.NewFromInt(250000)
    res, err := f.rec.ManualReconcile(ctx, ManualRequest{OrderID: intent.OrderID, Status: "settlement", Amount: &amount, ActorID: adminID})
    require.NoError(t, err)
    assert.Equal(t, model.PaymentPaid, res.Status)

    rows := f.store.ledger(42)
    require.Len(t, rows, 1)
    assert.Equal(t, "settlement", rows[0].Status)
    assert.Equal(t, model.MethodSnap, rows[0].PaymentMethod)
    assert.True(t, rows[0].Amount.Equal(amount))
}

func TestReconciler_ManualValidation(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    negative := decimal.NewFromInt(-1)

    tests := []struct {
        name  string
        req   ManualRequest
        field string
    }{
        {"unknown status", ManualRequest{BookingID: 42, Status: "piad"}, "final_status"},
        {"no target", ManualRequest{Status: "paid"}, "booking_id"},
        {"negative amount", ManualRequest{BookingID: 42, Amount: &negative}, "amount"},
        {"update without status", ManualRequest{OrderID: "ORDER-42-1"}, "final_status"},
    }
    for _, tc := range tests {
        t.Run(tc.name, func(t *testing.T) {
            _, err := f.rec.ManualReconcile(ctx, tc.req)
            require.ErrorIs(t, err, ErrValidation)
            var ve *ValidationError
            require.ErrorAs(t, err, &ve)
            assert.Contains(t, ve.Fields, tc.field)
        })
    }

    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)
    _, err = f.rec.ManualReconcile(ctx, ManualRequest{OrderID: intent.OrderID, BookingID: 99, Status: "paid"})
    assert.ErrorIs(t, err, ErrValidation)

    _, err = f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 404, Status: "paid"})
    assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestReconciler_BookingWriteFailureRollsBackLedger(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    f.store.failBookingWrite = errDiskFull
    _, err = f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.ErrorIs(t, err, errDiskFull)

    assert.Equal(t, model.PaymentPending, f.store.booking(42).PaymentStatus)
    assert.Equal(t, model.ProviderPending, f.store.ledger(42)[0].Status)
    assert.Zero(t, f.pub.count())
}

func TestReconciler_ConcurrentDeliveriesApplyOnce(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    const workers = 20
    outcomes := make(chan model.NotificationOutcome, workers)
    var wg sync.WaitGroup
    for i := 0; i < workers; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
            if assert.NoError(t, err) {
                outcomes <- res.Outcome
            }
        }()
    }
    wg.Wait()
    close(outcomes)

    applied := 0
    for o := range outcomes {
        if o == model.OutcomeApplied {
            applied++
        } else {
            assert.Equal(t, model.OutcomeDuplicate, o)
        }
    }
    assert.Equal(t, 1, applied)
    assert.Equal(t, 1, f.pub.count())
    assert.Len(t, f.store.ledger(42), 1)
}

func TestReconciler_CreatePayment(t *testing.T) {
    ctx := context.Background()

    t.Run("retry opens a new entry", func(t *testing.T) {
        f := newFixture(t)
        first, err := f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)
        second, err := f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)

        assert.NotEqual(t, first.OrderID, second.OrderID)
        assert.Len(t, f.gw.charges, 2)
        rows := f.store.ledger(42)
        require.Len(t, rows, 2)
        assert.Equal(t, first.OrderID, rows[0].OrderID)
        assert.Equal(t, second.OrderID, rows[1].OrderID)

        latest, err := f.store.FindLatestByBookingID(ctx, 42)
        require.NoError(t, err)
        assert.Equal(t, second.OrderID, latest.OrderID)
    })

    t.Run("settlement on superseded order pays the booking", func(t *testing.T) {
        f := newFixture(t)
        first, err := f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)
        _, err = f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)

        res, err := f.rec.Reconcile(ctx, webhook(first.OrderID, "settlement"))
        require.NoError(t, err)
        assert.Equal(t, model.OutcomeApplied, res.Outcome)
        assert.Equal(t, first.OrderID, res.OrderID)
        assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)
    })

    t.Run("admin may pay for any booking", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.CreatePayment(ctx, 42, admin)
        assert.NoError(t, err)
    })

    t.Run("stranger is refused", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.CreatePayment(ctx, 42, stranger)
        assert.ErrorIs(t, err, ErrForbidden)
        assert.Empty(t, f.gw.charges)
    })

    t.Run("paid booking is not payable", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 42, Status: "paid"})
        require.NoError(t, err)
        _, err = f.rec.CreatePayment(ctx, 42, owner)
        assert.ErrorIs(t, err, ErrNotPayable)
    })

    t.Run("missing contact fields", func(t *testing.T) {
        f := newFixture(t)
        b := f.store.booking(42)
        b.CustomerPhone = ""
        b.CustomerEmail = " "
        f.store.addBooking(b)

        _, err := f.rec.CreatePayment(ctx, 42, owner)
        var ve *ValidationError
        require.ErrorAs(t, err, &ve)
        assert.Contains(t, ve.Fields, "customer_phone")
        assert.Contains(t, ve.Fields, "customer_email")
        assert.Empty(t, f.gw.charges)
    })

    t.Run("unresolvable package price", func(t *testing.T) {
        f := newFixture(t)
        b := f.store.booking(42)
        b.PackageID = 99
        f.store.addBooking(b)

        _, err := f.rec.CreatePayment(ctx, 42, owner)
        assert.ErrorIs(t, err, ErrValidation)
    })

    t.Run("zero total", func(t *testing.T) {
        f := newFixture(t)
        b := f.store.booking(42)
        b.TotalAmount = decimal.Zero
        f.store.addBooking(b)

        _, err := f.rec.CreatePayment(ctx, 42, owner)
        assert.ErrorIs(t, err, ErrValidation)
    })

    t.Run("gateway failure writes nothing", func(t *testing.T) {
        f := newFixture(t)
        f.gw.err = fmt.Errorf("%w: provider did not answer: %w", gateway.ErrGateway, context.DeadlineExceeded)

        _, err := f.rec.CreatePayment(ctx, 42, owner)
        assert.ErrorIs(t, err, ErrGateway)
        assert.Empty(t, f.store.ledger(42))
        assert.Equal(t, model.PaymentPending, f.store.booking(42).PaymentStatus)
    })

    t.Run("unknown booking", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.CreatePayment(ctx, 404, owner)
        assert.ErrorIs(t, err, ErrBookingNotFound)
    })
}

func TestReconciler_CancelBooking(t *testing.T) {
    ctx := context.Background()

    t.Run("owner cancels pending checkout", func(t *testing.T) {
        f := newFixture(t)
        intent, err := f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)

        res, err := f.rec.CancelBooking(ctx, 42, owner)
        require.NoError(t, err)
        assert.Equal(t, model.PaymentCancelled, res.Status)
        assert.Equal(t, intent.OrderID, res.OrderID)

        rows := f.store.ledger(42)
        require.Len(t, rows, 1)
        assert.Equal(t, model.ProviderCancel, rows[0].Status)
        assert.Equal(t, SourceCustomerCancel, f.pub.events[0].Source)
    })

    t.Run("cancel without checkout creates audit entry", func(t *testing.T) {
        f := newFixture(t)
        res, err := f.rec.CancelBooking(ctx, 42, owner)
        require.NoError(t, err)
        assert.True(t, strings.HasPrefix(res.OrderID, "CANCEL-42-"))

        rows := f.store.ledger(42)
        require.Len(t, rows, 1)
        assert.Equal(t, model.MethodSelfService, rows[0].PaymentMethod)
    })

    t.Run("late settlement does not revive a cancelled booking", func(t *testing.T) {
        f := newFixture(t)
        intent, err := f.rec.CreatePayment(ctx, 42, owner)
        require.NoError(t, err)
        _, err = f.rec.CancelBooking(ctx, 42, owner)
        require.NoError(t, err)

        res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
        require.NoError(t, err)
        assert.Equal(t, model.OutcomeIgnoredTerminal, res.Outcome)
        assert.Equal(t, model.PaymentCancelled, f.store.booking(42).PaymentStatus)
    })

    t.Run("only the owner", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.CancelBooking(ctx, 42, stranger)
        assert.ErrorIs(t, err, ErrForbidden)
        _, err = f.rec.CancelBooking(ctx, 42, admin)
        assert.ErrorIs(t, err, ErrForbidden)
        _, err = f.rec.CancelBooking(ctx, 42, Caller{})
        assert.ErrorIs(t, err, ErrForbidden)
        assert.Equal(t, model.PaymentPending, f.store.booking(42).PaymentStatus)
    })

    t.Run("only while pending", func(t *testing.T) {
        f := newFixture(t)
        _, err := f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 42, Status: "paid"})
        require.NoError(t, err)
        _, err = f.rec.CancelBooking(ctx, 42, owner)
        assert.ErrorIs(t, err, ErrNotCancellable)
        assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)
    })
}

func TestReconciler_SyncFromProvider(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    f.gw.status = &gateway.StatusResult{
        OrderID:           intent.OrderID,
        TransactionStatus: "settlement",
        PaymentType:       "bank_transfer",
        SettlementTime:    "2024-11-07 10:05:00",
        Raw:               []byte(`{"transaction_status":"settlement"}`),
    }
    res, err := f.rec.SyncFromProvider(ctx, intent.OrderID)
    require.NoError(t, err)
    assert.Equal(t, model.PaymentPaid, res.Status)

    row := f.store.ledger(42)[0]
    assert.Equal(t, "bank_transfer", row.PaymentMethod)
    require.NotNil(t, row.LastEventAt)
    assert.True(t, row.LastEventAt.Equal(time.Date(2024, 11, 7, 3, 5, 0, 0, time.UTC)))
    assert.Equal(t, SourceSync, f.pub.events[0].Source)

    _, err = f.rec.SyncFromProvider(ctx, "ORDER-404-1")
    assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestReconciler_PublishFailureDoesNotFailReconcile(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)

    f.pub.err = fmt.Errorf("broker down")
    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.PaymentPaid, res.Status)
}

func TestReconciler_SecondPaidOrderWarnsOfDoubleCharge(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)
    manual, err := f.rec.ManualReconcile(ctx, ManualRequest{BookingID: 42, Status: "paid", ActorID: adminID})
    require.NoError(t, err)
    f.logs.Reset()

    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeDuplicate, res.Outcome)
    assert.Equal(t, model.PaymentPaid, f.store.booking(42).PaymentStatus)

    entry := f.logs.LastEntry()
    require.NotNil(t, entry)
    assert.Equal(t, logrus.WarnLevel, entry.Level)
    assert.Equal(t, manual.OrderID, entry.Data["paid_order_id"])
}

func TestReconciler_ReplayedSettlementIsNotADoubleCharge(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    intent, err := f.rec.CreatePayment(ctx, 42, owner)
    require.NoError(t, err)
    _, err = f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    f.logs.Reset()

    res, err := f.rec.Reconcile(ctx, webhook(intent.OrderID, "settlement"))
    require.NoError(t, err)
    assert.Equal(t, model.OutcomeDuplicate, res.Outcome)
    entry := f.logs.LastEntry()
    require.NotNil(t, entry)
    assert.Equal(t, logrus.InfoLevel, entry.Level)
}
