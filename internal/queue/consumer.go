package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// StartPaymentAuditConsumer consumes payment.reconciled and appends one line
// per event to the audit log at path.  It reconnects with exponential
// backoff until ctx is cancelled.  Messages that cannot be decoded or
// written are rejected without requeue.
func StartPaymentAuditConsumer(ctx context.Context, url, path string, log *logrus.Logger) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            log.WithError(err).WithField("retry_in", backoff.String()).Warn("[payment][audit] broker dial failed")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, path, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.WithError(err).Warn("[payment][audit] consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, path string, log *logrus.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.WithError(err).Warn("[payment][audit] set QoS failed")
    }
    if _, err := ch.QueueDeclare(PaymentReconciledQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(PaymentReconciledQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(path, d.Body); err != nil {
                log.WithError(err).Error("[payment][audit] handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(path string, body []byte) error {
    var ev PaymentReconciledEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.OrderID == "" || ev.BookingID == 0 {
        return errors.New("event without order_id or booking_id")
    }
    return appendAuditLine(path, formatAuditLine(ev))
}

func formatAuditLine(ev PaymentReconciledEvent) string {
    actor := "-"
    if ev.ActorID != 0 {
        actor = fmt.Sprintf("%d", ev.ActorID)
    }
    return fmt.Sprintf("[%s] Payment reconciled | event_id=%s | order_id=%s | booking_id=%d | %s -> %s | ledger=%s | source=%s | actor=%s\n",
        ev.OccurredAt, ev.EventID, ev.OrderID, ev.BookingID, ev.PreviousStatus, ev.Status, ev.LedgerStatus, ev.Source, actor)
}

func appendAuditLine(path, line string) error {
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return fmt.Errorf("mkdir: %w", err)
    }
    f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open audit log: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write audit log: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
