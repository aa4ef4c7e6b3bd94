package handler

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

// ManualPaymentHandler exposes the admin override endpoints.  Both routes
// sit behind JWTAuth and RequireRole(ADMIN).
type ManualPaymentHandler struct {
    engine PaymentEngine
    log    *logrus.Logger
}

func NewManualPaymentHandler(engine PaymentEngine, log *logrus.Logger) *ManualPaymentHandler {
    if engine == nil || log == nil {
        panic("nil dependency passed to NewManualPaymentHandler")
    }
    return &ManualPaymentHandler{engine: engine, log: log}
}

type manualCreateBody struct {
    BookingID   uint64           `json:"booking_id" validate:"required"`
    FinalStatus string           `json:"final_status" validate:"omitempty,oneof=pending paid cancelled expired settlement capture deny cancel expire failure"`
    Amount      *decimal.Decimal `json:"amount"`
    Note        string           `json:"note"`
}

func (b *manualCreateBody) normalize() {
    b.FinalStatus = strings.ToLower(strings.TrimSpace(b.FinalStatus))
}

type manualUpdateBody struct {
    BookingID   uint64           `json:"booking_id"`
    OrderID     string           `json:"order_id" validate:"required"`
    FinalStatus string           `json:"final_status" validate:"required,oneof=pending paid cancelled expired settlement capture deny cancel expire failure"`
    Amount      *decimal.Decimal `json:"amount"`
    Note        string           `json:"note"`
}

func (b *manualUpdateBody) normalize() {
    b.OrderID = strings.TrimSpace(b.OrderID)
    b.FinalStatus = strings.ToLower(strings.TrimSpace(b.FinalStatus))
}

// Create handles POST /payment/manual/create.  final_status defaults to
// paid.
func (h *ManualPaymentHandler) Create(c echo.Context) error {
    var body manualCreateBody
    if err := bindBody(c, &body); err != nil {
        return writeError(c, h.log, err)
    }
    return h.apply(c, service.ManualRequest{
        BookingID: body.BookingID,
        Status:    body.FinalStatus,
        Amount:    body.Amount,
        Note:      body.Note,
    }, http.StatusCreated)
}

// Update handles POST /payment/manual/update on an existing order id.
func (h *ManualPaymentHandler) Update(c echo.Context) error {
    var body manualUpdateBody
    if err := bindBody(c, &body); err != nil {
        return writeError(c, h.log, err)
    }
    return h.apply(c, service.ManualRequest{
        BookingID: body.BookingID,
        OrderID:   body.OrderID,
        Status:    body.FinalStatus,
        Amount:    body.Amount,
        Note:      body.Note,
    }, http.StatusOK)
}

func (h *ManualPaymentHandler) apply(c echo.Context, req service.ManualRequest, status int) error {
    caller := callerFrom(c)
    req.ActorID = caller.UserID
    res, err := h.engine.ManualReconcile(c.Request().Context(), req)
    if err != nil {
        return writeError(c, h.log, err)
    }
    return respond(c, status, res)
}
