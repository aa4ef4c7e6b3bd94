package service

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/queue"
)

// RabbitPublisher publishes payment events to RabbitMQ, opening a fresh
// connection per publish.
type RabbitPublisher struct {
    url string
    log *logrus.Logger
}

func NewRabbitPublisher(url string, log *logrus.Logger) *RabbitPublisher {
    return &RabbitPublisher{url: url, log: log}
}

// PublishPaymentReconciled sends ev to the payment.reconciled queue as a
// persistent JSON message.
func (p *RabbitPublisher) PublishPaymentReconciled(ctx context.Context, ev queue.PaymentReconciledEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    conn, err := amqp.Dial(p.url)
    if err != nil {
        return fmt.Errorf("rabbitmq dial: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("rabbitmq channel: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(
        queue.PaymentReconciledQueue, // name
        true,                         // durable
        false,                        // autoDelete
        false,                        // exclusive
        false,                        // noWait
        nil,                          // args
    ); err != nil {
        return fmt.Errorf("rabbitmq queue declare: %w", err)
    }

    msg := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.EventID,
        Timestamp:    time.Now().UTC(),
        Type:         queue.PaymentReconciledQueue,
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queue.PaymentReconciledQueue, false, false, msg); err != nil {
        return fmt.Errorf("rabbitmq publish: %w", err)
    }

    p.log.WithFields(logrus.Fields{
        "event_id":   ev.EventID,
        "order_id":   ev.OrderID,
        "booking_id": ev.BookingID,
        "status":     ev.Status,
    }).Debug("[payment][events] event published")
    return nil
}
