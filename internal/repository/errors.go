// Package repository holds the MySQL data access layer.  The sentinel
// values below let the service and handler layers distinguish failure
// scenarios without inspecting driver errors.
package repository

import (
    "errors"
    "fmt"

    "github.com/go-sql-driver/mysql"
)

// ErrBookingNotFound is returned when no booking row matches the id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrPaymentNotFound is returned when no ledger entry matches the order id
// or booking id.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrPackageNotFound is returned when a booking references a package that
// no longer exists.
var ErrPackageNotFound = errors.New("package not found")

// ErrLockConflict is returned when MySQL gave up waiting for a row lock or
// picked the transaction as a deadlock victim.  The whole transaction has
// been rolled back and may be retried.
var ErrLockConflict = errors.New("booking row is locked by a concurrent operation")

const (
    mysqlLockWaitTimeout = 1205
    mysqlDeadlock        = 1213
)

// classify wraps lock-related driver errors with ErrLockConflict and
// returns everything else unchanged.
func classify(err error) error {
    if err == nil || errors.Is(err, ErrLockConflict) {
        return err
    }
    var me *mysql.MySQLError
    if errors.As(err, &me) && (me.Number == mysqlLockWaitTimeout || me.Number == mysqlDeadlock) {
        return fmt.Errorf("%w: %v", ErrLockConflict, err)
    }
    return err
}
