package utils

import "strings"

// RedactEmail keeps the first character of the local part and the domain:
// "jane@example.com" becomes "j***@example.com".  Values without an @ are
// fully masked.
func RedactEmail(email string) string {
    email = strings.TrimSpace(email)
    if email == "" {
        return ""
    }
    at := strings.LastIndex(email, "@")
    if at <= 0 {
        return "***"
    }
    return email[:1] + "***" + email[at:]
}
