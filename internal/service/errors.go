package service

import (
    "errors"
    "fmt"
    "sort"
    "strings"

    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/repository"
)

var (
    ErrBookingNotFound = repository.ErrBookingNotFound
    ErrPaymentNotFound = repository.ErrPaymentNotFound
    ErrPackageNotFound = repository.ErrPackageNotFound
    ErrGateway         = gateway.ErrGateway

    // ErrConcurrencyConflict means the booking stayed locked by another
    // operation past every retry.  Nothing was written; callers may retry.
    ErrConcurrencyConflict = repository.ErrLockConflict

    ErrSignatureInvalid = errors.New("invalid notification signature")
    ErrForbidden        = errors.New("forbidden")
    ErrValidation       = errors.New("validation failed")
    ErrNotPayable       = errors.New("booking is not awaiting payment")
    ErrNotCancellable   = errors.New("only pending bookings can be cancelled")
)

// ValidationError carries field level detail.  It matches ErrValidation
// with errors.Is.
type ValidationError struct {
    Fields map[string]string
}

func (e *ValidationError) Error() string {
    keys := make([]string, 0, len(e.Fields))
    for k := range e.Fields {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    parts := make([]string, 0, len(keys))
    for _, k := range keys {
        parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
    }
    return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// validation collects field errors and returns nil when there are none.
type validation map[string]string

func (v validation) require(field, value string) {
    if strings.TrimSpace(value) == "" {
        v[field] = "is required"
    }
}

func (v validation) err() error {
    if len(v) == 0 {
        return nil
    }
    return &ValidationError{Fields: map[string]string(v)}
}
