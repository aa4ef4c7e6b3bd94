package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// PaymentStatus is the simplified payment vocabulary stored on a booking.
// It is the customer and admin facing projection of whatever the provider
// reported for the booking's current ledger entry.
type PaymentStatus string

const (
    PaymentPending   PaymentStatus = "pending"
    PaymentPaid      PaymentStatus = "paid"
    PaymentCancelled PaymentStatus = "cancelled"
    PaymentExpired   PaymentStatus = "expired"
)

// IsTerminal reports whether no provider event may move the booking away
// from s.  Only an explicit admin override can.
func (s PaymentStatus) IsTerminal() bool {
    return s == PaymentPaid || s == PaymentCancelled || s == PaymentExpired
}

// Valid reports whether s is one of the four booking statuses.
func (s PaymentStatus) Valid() bool {
    return s == PaymentPending || s.IsTerminal()
}

// Booking is one purchase intent for a travel package.
//
// Fields:
//  ID            – primary key identifier.
//  Code          – human readable code, TRV-YYYYMMDD-XXXXXX.
//  UserID        – owning customer; nil for bookings taken by an admin.
//  PackageID     – travel package being bought.
//  ScheduleID    – optional departure schedule.
//  TripDate      – day of travel.
//  Participants  – number of travellers.
//  TotalAmount   – unit price × participants, 2 decimals.
//  PaymentStatus – written as pending at insert, afterwards only by the
//                  reconciliation engine.
type Booking struct {
    ID            uint64          // bookings.id
    Code          string          // bookings.booking_code
    UserID        *uint64         // bookings.user_id (nullable)
    PackageID     uint64          // bookings.package_id
    ScheduleID    *uint64         // bookings.schedule_id (nullable)
    TripDate      time.Time       // bookings.trip_date
    CustomerName  string          // bookings.customer_name
    CustomerEmail string          // bookings.customer_email
    CustomerPhone string          // bookings.customer_phone
    Participants  int             // bookings.participants
    TotalAmount   decimal.Decimal // bookings.total_amount
    PaymentStatus PaymentStatus   // bookings.payment_status
    CreatedAt     time.Time       // bookings.created_at
    UpdatedAt     time.Time       // bookings.updated_at
}

// OwnedBy reports whether the booking belongs to userID.
func (b *Booking) OwnedBy(userID uint64) bool {
    return b.UserID != nil && *b.UserID == userID
}

// TravelPackage is the read-only slice of packages the payment flow needs.
type TravelPackage struct {
    ID    uint64          // packages.id
    Name  string          // packages.name
    Price decimal.Decimal // packages.price, per participant
}

// ComputeTotal returns unitPrice × participants rounded to 2 decimals.
func ComputeTotal(unitPrice decimal.Decimal, participants int) decimal.Decimal {
    return unitPrice.Mul(decimal.NewFromInt(int64(participants))).Round(2)
}
