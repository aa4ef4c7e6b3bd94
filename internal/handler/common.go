package handler

import (
    "errors"
    "net/http"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/middleware"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

// callerFrom builds the service caller from the identity JWTAuth or
// OptionalJWT stored on the context.  Guests yield the zero Caller.
func callerFrom(c echo.Context) service.Caller {
    id, ok := middleware.UserID(c)
    if !ok {
        return service.Caller{}
    }
    return service.Caller{UserID: id, Role: middleware.Role(c), Authenticated: true}
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
    return id, err == nil && id > 0
}

func respond(c echo.Context, status int, data any) error {
    return c.JSON(status, echo.Map{"success": true, "data": data})
}

func fail(c echo.Context, status int, msg string) error {
    return c.JSON(status, echo.Map{"success": false, "error": msg})
}

// writeError maps service errors to HTTP responses.  Unexpected errors are
// logged and answered with a generic message.
func writeError(c echo.Context, log *logrus.Logger, err error) error {
    var ve *service.ValidationError
    switch {
    case errors.As(err, &ve):
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "validation failed", "fields": ve.Fields})
    case errors.Is(err, service.ErrValidation):
        return fail(c, http.StatusBadRequest, err.Error())
    case errors.Is(err, service.ErrBookingNotFound):
        return fail(c, http.StatusNotFound, "booking not found")
    case errors.Is(err, service.ErrPaymentNotFound):
        return fail(c, http.StatusNotFound, "payment not found")
    case errors.Is(err, service.ErrForbidden):
        return fail(c, http.StatusForbidden, "forbidden")
    case errors.Is(err, service.ErrSignatureInvalid):
        return fail(c, http.StatusUnauthorized, "invalid signature")
    case errors.Is(err, service.ErrNotPayable):
        return fail(c, http.StatusConflict, err.Error())
    case errors.Is(err, service.ErrNotCancellable):
        return fail(c, http.StatusConflict, err.Error())
    case errors.Is(err, service.ErrConcurrencyConflict):
        return fail(c, http.StatusConflict, "booking is being updated, retry shortly")
    case errors.Is(err, service.ErrGateway):
        log.WithError(err).WithField("path", c.Path()).Error("[payment][http] gateway failure")
        return fail(c, http.StatusInternalServerError, "payment provider unavailable")
    default:
        log.WithError(err).WithField("path", c.Path()).Error("[payment][http] internal error")
        return fail(c, http.StatusInternalServerError, "internal server error")
    }
}
