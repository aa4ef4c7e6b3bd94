package service

import (
    "strings"

    "github.com/iliyamo/travel-payment-reconciliation/internal/model"
)

// MapStatus is the one place where a provider status, optionally qualified
// by a fraud flag, becomes a booking payment status.  The webhook, manual,
// sync and cancel paths all go through it.  The simplified manual
// vocabulary (paid, cancelled, expired, pending) maps onto itself.
//
//	capture + accept (or no flag), settlement, paid -> paid
//	capture + challenge or any other flag           -> pending
//	cancel, deny, cancelled                         -> cancelled
//	expire, expired                                 -> expired
//	anything else                                   -> pending
func MapStatus(providerStatus, fraudStatus string) model.PaymentStatus {
    switch normalize(providerStatus) {
    case model.ProviderCapture:
        switch normalize(fraudStatus) {
        case "", model.FraudAccept:
            return model.PaymentPaid
        default:
            return model.PaymentPending
        }
    case model.ProviderSettlement, string(model.PaymentPaid):
        return model.PaymentPaid
    case model.ProviderCancel, model.ProviderDeny, string(model.PaymentCancelled):
        return model.PaymentCancelled
    case model.ProviderExpire, string(model.PaymentExpired):
        return model.PaymentExpired
    default:
        return model.PaymentPending
    }
}

// ProviderStatusFor is the ledger status written when a manual or self
// service action sets canonical status s.
func ProviderStatusFor(s model.PaymentStatus) string {
    switch s {
    case model.PaymentPaid:
        return model.ProviderSettlement
    case model.PaymentCancelled:
        return model.ProviderCancel
    case model.PaymentExpired:
        return model.ProviderExpire
    default:
        return model.ProviderPending
    }
}

// knownStatus reports whether s belongs to either vocabulary.  Manual input
// outside both is rejected instead of silently mapping to pending.
func knownStatus(s string) bool {
    switch normalize(s) {
    case model.ProviderPending, model.ProviderSettlement, model.ProviderCapture, model.ProviderDeny,
        model.ProviderCancel, model.ProviderExpire, model.ProviderFailure,
        string(model.PaymentPaid), string(model.PaymentCancelled), string(model.PaymentExpired):
        return true
    }
    return false
}

func normalize(s string) string {
    return strings.ToLower(strings.TrimSpace(s))
}
