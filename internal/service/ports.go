package service

import (
    "context"
    "database/sql"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
    "github.com/iliyamo/travel-payment-reconciliation/internal/queue"
    "github.com/iliyamo/travel-payment-reconciliation/internal/repository"
)

// BookingStore is satisfied by *repository.BookingRepo.
type BookingStore interface {
    GetByID(ctx context.Context, id uint64) (*model.Booking, error)
    WithBookingLock(ctx context.Context, bookingID uint64, fn repository.LockedFunc) error
    UpdatePaymentStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.PaymentStatus) error
    GetPackageTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.TravelPackage, error)
}

// PaymentStore is satisfied by *repository.PaymentRepo.
type PaymentStore interface {
    FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error)
    FindByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID string) (*model.Payment, error)
    FindLatestByBookingID(ctx context.Context, bookingID uint64) (*model.Payment, error)
    FindLatestByBookingIDTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.Payment, error)
    ListByBookingID(ctx context.Context, bookingID uint64) ([]model.Payment, error)
    UpsertTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error
}

// EventPublisher delivers payment events after the database commit.
type EventPublisher interface {
    PublishPaymentReconciled(ctx context.Context, ev queue.PaymentReconciledEvent) error
}

// Roles carried in the JWT role claim.
const (
    RoleAdmin    = "ADMIN"
    RoleCustomer = "CUSTOMER"
)

// Caller identifies who is asking.  The zero value is an anonymous caller.
type Caller struct {
    UserID        uint64
    Role          string
    Authenticated bool
}

func (c Caller) IsAdmin() bool { return c.Authenticated && c.Role == RoleAdmin }

// Owns reports whether b belongs to the caller.
func (c Caller) Owns(b *model.Booking) bool {
    return c.Authenticated && b.OwnedBy(c.UserID)
}
