package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "time"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

// PaymentRepo persists the payment ledger.  Writes always take the caller's
// transaction so that a ledger change commits or rolls back together with
// the booking status it implies.
type PaymentRepo struct {
    db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, order_id, booking_id, payment_method, amount, status, fraud_status,
    snap_token, redirect_url, raw_response, last_event_at, created_at, updated_at`

type querier interface {
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanPayment(row rowScanner) (*model.Payment, error) {
    var (
        p           model.Payment
        fraud       sql.NullString
        token       sql.NullString
        redirect    sql.NullString
        raw         []byte
        lastEventAt sql.NullTime
    )
    err := row.Scan(
        &p.ID, &p.OrderID, &p.BookingID, &p.PaymentMethod, &p.Amount, &p.Status, &fraud,
        &token, &redirect, &raw, &lastEventAt, &p.CreatedAt, &p.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrPaymentNotFound
        }
        return nil, err
    }
    p.FraudStatus = nullableString(fraud)
    p.SnapToken = nullableString(token)
    p.RedirectURL = nullableString(redirect)
    if len(raw) > 0 {
        p.RawResponse = json.RawMessage(raw)
    }
    if lastEventAt.Valid {
        t := lastEventAt.Time
        p.LastEventAt = &t
    }
    return &p, nil
}

func nullableString(ns sql.NullString) *string {
    if !ns.Valid {
        return nil
    }
    s := ns.String
    return &s
}

func rawJSON(raw json.RawMessage) any {
    if len(raw) == 0 {
        return nil
    }
    return []byte(raw)
}

func findByOrderID(ctx context.Context, q querier, orderID string, forUpdate bool) (*model.Payment, error) {
    query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ?`
    if forUpdate {
        query += ` FOR UPDATE`
    }
    p, err := scanPayment(q.QueryRowContext(ctx, query, orderID))
    return p, classify(err)
}

func findLatestByBookingID(ctx context.Context, q querier, bookingID uint64) (*model.Payment, error) {
    query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ? ORDER BY updated_at DESC, id DESC LIMIT 1`
    p, err := scanPayment(q.QueryRowContext(ctx, query, bookingID))
    return p, classify(err)
}

// FindByOrderID looks up a ledger entry by provider order id.
func (r *PaymentRepo) FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
    return findByOrderID(ctx, r.db, orderID, false)
}

// FindByOrderIDTx re-reads a ledger entry inside tx and locks it.
func (r *PaymentRepo) FindByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID string) (*model.Payment, error) {
    return findByOrderID(ctx, tx, orderID, true)
}

// FindLatestByBookingID returns the booking's current ledger entry, the one
// updated most recently.
func (r *PaymentRepo) FindLatestByBookingID(ctx context.Context, bookingID uint64) (*model.Payment, error) {
    return findLatestByBookingID(ctx, r.db, bookingID)
}

// FindLatestByBookingIDTx is FindLatestByBookingID inside tx.
func (r *PaymentRepo) FindLatestByBookingIDTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.Payment, error) {
    return findLatestByBookingID(ctx, tx, bookingID)
}

// ListByBookingID returns every attempt recorded for the booking, newest
// first.
func (r *PaymentRepo) ListByBookingID(ctx context.Context, bookingID uint64) ([]model.Payment, error) {
    query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ? ORDER BY updated_at DESC, id DESC`
    rows, err := r.db.QueryContext(ctx, query, bookingID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []model.Payment
    for rows.Next() {
        p, err := scanPayment(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *p)
    }
    return out, rows.Err()
}

// UpsertTx inserts the ledger entry or, when order_id already exists,
// refreshes its status, fraud flag, amount, method, payload and
// last_event_at.  booking_id never changes on update.  Replaying an
// identical event therefore only moves updated_at.  p.ID and the
// timestamps are reloaded after the write.
func (r *PaymentRepo) UpsertTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
    const q = `INSERT INTO payments
        (order_id, booking_id, payment_method, amount, status, fraud_status, snap_token, redirect_url, raw_response, last_event_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            payment_method = VALUES(payment_method),
            amount = VALUES(amount),
            status = VALUES(status),
            fraud_status = VALUES(fraud_status),
            snap_token = COALESCE(VALUES(snap_token), snap_token),
            redirect_url = COALESCE(VALUES(redirect_url), redirect_url),
            raw_response = COALESCE(VALUES(raw_response), raw_response),
            last_event_at = COALESCE(VALUES(last_event_at), last_event_at),
            updated_at = CURRENT_TIMESTAMP(3)`
    _, err := tx.ExecContext(ctx, q,
        p.OrderID, p.BookingID, p.PaymentMethod, p.Amount.StringFixed(2), p.Status, p.FraudStatus,
        p.SnapToken, p.RedirectURL, rawJSON(p.RawResponse), nullTime(p.LastEventAt),
    )
    if err != nil {
        return classify(err)
    }
    stored, err := findByOrderID(ctx, tx, p.OrderID, false)
    if err != nil {
        return err
    }
    *p = *stored
    return nil
}

func nullTime(t *time.Time) any {
    if t == nil {
        return nil
    }
    return t.UTC()
}
