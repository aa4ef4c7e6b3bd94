// Package router mounts the HTTP routes on echo.
package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-payment-reconciliation/internal/handler"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
    Health       *handler.HealthHandler
    Notification *handler.NotificationHandler
    Payment      *handler.PaymentHandler
    Manual       *handler.ManualPaymentHandler
    Booking      *handler.BookingHandler
}

// Limits are the rate limiting middlewares per route family.  A nil entry
// disables limiting for that family.
type Limits struct {
    Webhook echo.MiddlewareFunc
    API     echo.MiddlewareFunc
}

// RegisterRoutes registers the unauthenticated routes: the health check
// and the provider webhook, which authenticates by signature.
func RegisterRoutes(e *echo.Echo, h Handlers, l Limits) {
    e.GET("/healthz", h.Health.Health)
    e.POST("/payment/notification", h.Notification.Handle, optional(l.Webhook)...)
}
