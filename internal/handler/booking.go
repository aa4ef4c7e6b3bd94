package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// BookingHandler serves the booking-scoped payment endpoints.
type BookingHandler struct {
    engine  PaymentEngine
    queries PaymentQueries
    log     *logrus.Logger
}

func NewBookingHandler(engine PaymentEngine, queries PaymentQueries, log *logrus.Logger) *BookingHandler {
    if engine == nil || queries == nil || log == nil {
        panic("nil dependency passed to NewBookingHandler")
    }
    return &BookingHandler{engine: engine, queries: queries, log: log}
}

// PaymentStatus handles GET /bookings/:id/payment-status.
func (h *BookingHandler) PaymentStatus(c echo.Context) error {
    id, valid := parseID(c, "id")
    if !valid {
        return writeError(c, h.log, invalidParam("booking_id", "must be a positive integer"))
    }
    st, err := h.queries.BookingStatus(c.Request().Context(), id, callerFrom(c))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusOK, st)
}

// Cancel handles POST /bookings/:id/cancel.  Only the owning customer can
// cancel, and only while the booking is pending.
func (h *BookingHandler) Cancel(c echo.Context) error {
    id, valid := parseID(c, "id")
    if !valid {
        return writeError(c, h.log, invalidParam("booking_id", "must be a positive integer"))
    }
    res, err := h.engine.CancelBooking(c.Request().Context(), id, callerFrom(c))
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, http.StatusOK, res)
}
