package gateway

import (
    "crypto/sha512"
    "crypto/subtle"
    "encoding/hex"
    "strings"
)

// SignatureKey computes hex(sha512(orderID + statusCode + grossAmount + serverKey)),
// the value the provider puts in a notification's signature_key.
func SignatureKey(orderID, statusCode, grossAmount, serverKey string) string {
    sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
    return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether signature matches the expected key for
// the notification fields.  The comparison runs in constant time.
func VerifySignature(orderID, statusCode, grossAmount, serverKey, signature string) bool {
    if signature == "" || serverKey == "" {
        return false
    }
    want := SignatureKey(orderID, statusCode, grossAmount, serverKey)
    got := strings.ToLower(strings.TrimSpace(signature))
    return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// fallbackToken derives a deterministic checkout token for providers that
// answered without one.  statusCode defaults to 201, the code of a created
// transaction.
func fallbackToken(orderID, statusCode, grossAmount, serverKey string) string {
    if statusCode == "" {
        statusCode = "201"
    }
    return SignatureKey(orderID, statusCode, grossAmount, serverKey)
}

// checkoutURL builds the hosted payment page URL for token.
func checkoutURL(baseURL, token string) string {
    return strings.TrimRight(baseURL, "/") + "/snap/v2/vtweb/" + token
}
