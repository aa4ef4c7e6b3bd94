package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

// NotificationRepo appends to payment_notifications, the audit trail of
// every webhook delivery including the ones that were rejected.
type NotificationRepo struct {
    db *sql.DB
}

// NewNotificationRepo returns a new NotificationRepo bound to the given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Record inserts n and fills in its generated id.  It runs on its own
// connection, outside any reconciliation transaction.
func (r *NotificationRepo) Record(ctx context.Context, n *model.PaymentNotification) error {
    const q = `INSERT INTO payment_notifications
        (order_id, transaction_status, fraud_status, signature_valid, outcome, detail, payload, received_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
    if n.ReceivedAt.IsZero() {
        n.ReceivedAt = time.Now().UTC()
    }
    res, err := r.db.ExecContext(ctx, q,
        n.OrderID, n.TransactionStatus, n.FraudStatus, n.SignatureValid, string(n.Outcome), n.Detail,
        rawJSON(n.Payload), n.ReceivedAt,
    )
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    n.ID = uint64(id)
    return nil
}

// ListByOrderID returns the deliveries recorded for an order, oldest first.
func (r *NotificationRepo) ListByOrderID(ctx context.Context, orderID string) ([]model.PaymentNotification, error) {
    const q = `SELECT id, order_id, transaction_status, fraud_status, signature_valid, outcome, detail, payload, received_at
        FROM payment_notifications WHERE order_id = ? ORDER BY received_at, id`
    rows, err := r.db.QueryContext(ctx, q, orderID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []model.PaymentNotification
    for rows.Next() {
        var (
            n       model.PaymentNotification
            fraud   sql.NullString
            detail  sql.NullString
            outcome string
            payload []byte
        )
        if err := rows.Scan(&n.ID, &n.OrderID, &n.TransactionStatus, &fraud, &n.SignatureValid,
            &outcome, &detail, &payload, &n.ReceivedAt); err != nil {
            return nil, err
        }
        n.FraudStatus = nullableString(fraud)
        n.Detail = nullableString(detail)
        n.Outcome = model.NotificationOutcome(outcome)
        n.Payload = payload
        out = append(out, n)
    }
    return out, rows.Err()
}
