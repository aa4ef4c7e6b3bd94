package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

// BookingRepo reads bookings and owns the only write to
// bookings.payment_status.  Mutations that touch a booking's payment state
// run inside WithBookingLock.
type BookingRepo struct {
    db           *sql.DB
    lockRetries  int
    retryBackoff time.Duration
}

// NewBookingRepo returns a BookingRepo bound to db.  Lock conflicts are
// retried twice with a 100ms linear backoff unless SetLockRetry says
// otherwise.
func NewBookingRepo(db *sql.DB) *BookingRepo {
    return &BookingRepo{db: db, lockRetries: 2, retryBackoff: 100 * time.Millisecond}
}

// SetLockRetry overrides the retry policy of WithBookingLock.
func (r *BookingRepo) SetLockRetry(retries int, backoff time.Duration) {
    if retries < 0 {
        retries = 0
    }
    r.lockRetries = retries
    r.retryBackoff = backoff
}

const bookingColumns = `id, booking_code, user_id, package_id, schedule_id, trip_date,
    customer_name, customer_email, customer_phone, participants, total_amount,
    payment_status, created_at, updated_at`

type rowScanner interface {
    Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
    var (
        b          model.Booking
        userID     sql.NullInt64
        scheduleID sql.NullInt64
        status     string
    )
    err := row.Scan(
        &b.ID, &b.Code, &userID, &b.PackageID, &scheduleID, &b.TripDate,
        &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.Participants, &b.TotalAmount,
        &status, &b.CreatedAt, &b.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrBookingNotFound
        }
        return nil, err
    }
    if userID.Valid {
        v := uint64(userID.Int64)
        b.UserID = &v
    }
    if scheduleID.Valid {
        v := uint64(scheduleID.Int64)
        b.ScheduleID = &v
    }
    b.PaymentStatus = model.PaymentStatus(status)
    return &b, nil
}

// GetByID returns a booking without locking it.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
    q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
    return scanBooking(r.db.QueryRowContext(ctx, q, id))
}

// GetByIDForUpdateTx reads the booking and takes an exclusive row lock on it
// for the lifetime of tx.
func (r *BookingRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
    q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? FOR UPDATE`
    b, err := scanBooking(tx.QueryRowContext(ctx, q, id))
    return b, classify(err)
}

// UpdatePaymentStatusTx writes the booking's payment status.  The only
// caller is the reconciliation engine.
func (r *BookingRepo) UpdatePaymentStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.PaymentStatus) error {
    const q = `UPDATE bookings SET payment_status = ?, updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?`
    res, err := tx.ExecContext(ctx, q, string(status), id)
    if err != nil {
        return classify(err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrBookingNotFound
    }
    return nil
}

// GetPackageTx loads the package a booking points at.
func (r *BookingRepo) GetPackageTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.TravelPackage, error) {
    const q = `SELECT id, name, price FROM packages WHERE id = ?`
    var p model.TravelPackage
    if err := tx.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &p.Price); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrPackageNotFound
        }
        return nil, classify(err)
    }
    return &p, nil
}

// LockedFunc runs with the booking row locked.  b is the state read under
// the lock; returning an error rolls the whole transaction back.
type LockedFunc func(ctx context.Context, tx *sql.Tx, b *model.Booking) error

// WithBookingLock is the single entry point for every operation that
// mutates a booking's payment state.  It begins a transaction, locks the
// booking row with SELECT ... FOR UPDATE, runs fn and commits.  Any error
// or panic rolls back.  Lock wait timeouts and deadlocks are retried with a
// linear backoff and surface as ErrLockConflict once retries run out.
func (r *BookingRepo) WithBookingLock(ctx context.Context, bookingID uint64, fn LockedFunc) error {
    var err error
    for attempt := 0; attempt <= r.lockRetries; attempt++ {
        if attempt > 0 {
            select {
            case <-ctx.Done():
                return fmt.Errorf("booking %d: %w", bookingID, ctx.Err())
            case <-time.After(time.Duration(attempt) * r.retryBackoff):
            }
        }
        err = r.runLocked(ctx, bookingID, fn)
        if !errors.Is(err, ErrLockConflict) {
            return err
        }
    }
    return err
}

func (r *BookingRepo) runLocked(ctx context.Context, bookingID uint64, fn LockedFunc) error {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("begin booking transaction: %w", err)
    }
    committed := false
    defer func() {
        if committed {
            return
        }
        _ = tx.Rollback()
        if p := recover(); p != nil {
            panic(p)
        }
    }()

    b, err := r.GetByIDForUpdateTx(ctx, tx, bookingID)
    if err != nil {
        return err
    }
    if err := fn(ctx, tx, b); err != nil {
        return classify(err)
    }
    if err := tx.Commit(); err != nil {
        return classify(fmt.Errorf("commit booking %d: %w", bookingID, err))
    }
    committed = true
    return nil
}
