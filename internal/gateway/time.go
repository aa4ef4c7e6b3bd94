package gateway

import (
    "strings"
    "time"
)

// Provider timestamps are wall-clock times in Western Indonesia Time.
var providerZone = time.FixedZone("WIB", 7*60*60)

const providerTimeLayout = "2006-01-02 15:04:05"

// ParseTime parses a provider timestamp such as "2024-11-07 10:05:00".
// Empty or malformed values yield nil.
func ParseTime(s string) *time.Time {
    s = strings.TrimSpace(s)
    if s == "" {
        return nil
    }
    t, err := time.ParseInLocation(providerTimeLayout, s, providerZone)
    if err != nil {
        return nil
    }
    t = t.UTC()
    return &t
}

// EventTime picks the timestamp that orders a notification: the settlement
// time when the provider sent one, otherwise the transaction time.
func EventTime(settlementTime, transactionTime string) *time.Time {
    if t := ParseTime(settlementTime); t != nil {
        return t
    }
    return ParseTime(transactionTime)
}
