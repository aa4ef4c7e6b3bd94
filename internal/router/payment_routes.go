package router

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-payment-reconciliation/internal/middleware"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

// RegisterPayment registers the checkout and status routes.  Status
// lookups accept guests; the handler redacts what they see.
func RegisterPayment(e *echo.Echo, h Handlers, l Limits, jwtSecret string) {
    g := e.Group("/payment", optional(l.API)...)

    g.POST("/create", h.Payment.Create, middleware.JWTAuth(jwtSecret))
    g.GET("/status/:orderId", h.Payment.Status, middleware.OptionalJWT(jwtSecret))
    g.GET("/by-booking/:bookingId", h.Payment.ByBooking, middleware.OptionalJWT(jwtSecret))
}

// RegisterAdmin registers the ADMIN-only payment routes.
func RegisterAdmin(e *echo.Echo, h Handlers, l Limits, jwtSecret string) {
    mw := append(optional(l.API), middleware.JWTAuth(jwtSecret), middleware.RequireRole(service.RoleAdmin))
    g := e.Group("/payment", mw...)

    g.POST("/manual/create", h.Manual.Create)
    g.POST("/manual/update", h.Manual.Update)
    g.POST("/sync/:orderId", h.Payment.Sync)
    g.GET("/history/:bookingId", h.Payment.History)
    g.GET("/notifications/:orderId", h.Payment.Notifications)
}

// RegisterBooking registers the booking-scoped routes.  Ownership is
// checked in the service; cancel is additionally limited to customers.
func RegisterBooking(e *echo.Echo, h Handlers, l Limits, jwtSecret string) {
    mw := append(optional(l.API), middleware.JWTAuth(jwtSecret))
    g := e.Group("/bookings", mw...)

    g.GET("/:id/payment-status", h.Booking.PaymentStatus)
    g.POST("/:id/cancel", h.Booking.Cancel, middleware.RequireRole(service.RoleCustomer))
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
    if mw == nil {
        return nil
    }
    return []echo.MiddlewareFunc{mw}
}
