package config

import (
    "log"
    "time"
)

// PaymentConfig groups the settings of the payment gateway and the
// reconciliation engine.
type PaymentConfig struct {
    ServerKey  string
    ClientKey  string
    Production bool

    // GatewayTimeout bounds every outbound call to the provider.
    GatewayTimeout time.Duration

    // RequireWebhookSignature rejects notifications whose signature_key does
    // not match sha512(order_id+status_code+gross_amount+server_key).
    // Defaults to true; turning it off is logged at startup.
    RequireWebhookSignature bool

    // LockRetries is how many extra attempts a booking-scoped transaction
    // gets after a lock wait timeout or deadlock.
    LockRetries      int
    LockRetryBackoff time.Duration
}

func LoadPaymentConfig() PaymentConfig {
    cfg := PaymentConfig{
        ServerKey:               must("MIDTRANS_SERVER_KEY"),
        ClientKey:               envStr("MIDTRANS_CLIENT_KEY", ""),
        Production:              envBool("MIDTRANS_PRODUCTION", false),
        GatewayTimeout:          envDur("PAYMENT_GATEWAY_TIMEOUT", 15*time.Second),
        RequireWebhookSignature: envBool("PAYMENT_REQUIRE_WEBHOOK_SIGNATURE", true),
        LockRetries:             envInt("PAYMENT_LOCK_RETRIES", 2),
        LockRetryBackoff:        envDur("PAYMENT_LOCK_RETRY_BACKOFF", 100*time.Millisecond),
    }
    if cfg.GatewayTimeout <= 0 {
        log.Printf("config: PAYMENT_GATEWAY_TIMEOUT must be positive, using 15s")
        cfg.GatewayTimeout = 15 * time.Second
    }
    if cfg.LockRetries < 0 {
        cfg.LockRetries = 0
    }
    return cfg
}

// SnapBaseURL is the host serving the hosted checkout page for the
// configured environment.
func (c PaymentConfig) SnapBaseURL() string {
    if c.Production {
        return "https://app.midtrans.com"
    }
    return "https://app.sandbox.midtrans.com"
}
