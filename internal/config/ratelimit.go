package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// RateLimitConfig drives the Redis token bucket in middleware.NewTokenBucket.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

// LoadRateLimitConfig reads the shared RATE_LIMIT_* variables and lets a
// scope override them, e.g. scope "webhook" reads RATE_LIMIT_WEBHOOK_CAPACITY
// before falling back to RATE_LIMIT_CAPACITY.  The provider retries
// notifications aggressively, so the webhook scope keys by IP only and gets
// a larger default bucket.
func LoadRateLimitConfig(scope string) RateLimitConfig {
    up := strings.ToUpper(scope)
    key := func(name string) string {
        if up == "" {
            return "RATE_LIMIT_" + name
        }
        return "RATE_LIMIT_" + up + "_" + name
    }
    base := func(name string) string { return "RATE_LIMIT_" + name }

    capacity, strategy := 60, "ip_user_route"
    if up == "WEBHOOK" {
        capacity, strategy = 300, "ip"
    }

    cfg := RateLimitConfig{
        Enabled:        envBool(key("ENABLED"), envBool(base("ENABLED"), true)),
        Capacity:       envInt(key("CAPACITY"), envInt(base("CAPACITY"), capacity)),
        RefillTokens:   envInt(key("REFILL_TOKENS"), envInt(base("REFILL_TOKENS"), 1)),
        RefillInterval: envDur(key("REFILL_INTERVAL"), envDur(base("REFILL_INTERVAL"), time.Second)),
        TTL:            envDur(base("TTL"), 10*time.Minute),
        KeyStrategy:    envStr(key("KEY_STRATEGY"), strategy),
        Prefix:         envStr(base("PREFIX"), "rl") + ":" + strings.ToLower(firstNonEmpty(scope, "api")),
        Debug:          envBool(base("DEBUG"), false),
    }
    if cfg.Capacity < 1 {
        cfg.Capacity = 1
    }
    if cfg.RefillTokens < 1 {
        cfg.RefillTokens = 1
    }
    if cfg.RefillInterval <= 0 {
        cfg.RefillInterval = time.Second
    }
    if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
        cfg.TTL = minTTL
    }
    return cfg
}

func firstNonEmpty(vals ...string) string {
    for _, v := range vals {
        if v != "" {
            return v
        }
    }
    return ""
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}
