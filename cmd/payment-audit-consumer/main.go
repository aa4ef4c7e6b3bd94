// Command payment-audit-consumer appends every payment.reconciled event to
// an audit log file.
package main

import (
    "context"
    "errors"
    "os"
    "os/signal"
    "syscall"

    "github.com/joho/godotenv"

    "github.com/iliyamo/travel-payment-reconciliation/internal/config"
    "github.com/iliyamo/travel-payment-reconciliation/internal/logging"
    "github.com/iliyamo/travel-payment-reconciliation/internal/queue"
)

func main() {
    _ = godotenv.Load()

    log := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
    path := os.Getenv("PAYMENT_AUDIT_LOG")
    if path == "" {
        path = "logs/payment.log"
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    log.WithField("path", path).Info("payment audit consumer started")
    err := queue.StartPaymentAuditConsumer(ctx, config.RabbitURL(), path, log)
    if err != nil && !errors.Is(err, context.Canceled) {
        log.WithError(err).Fatal("payment audit consumer stopped")
    }
    log.Info("payment audit consumer stopped")
}
