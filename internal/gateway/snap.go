package gateway

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    "github.com/midtrans/midtrans-go"
    "github.com/midtrans/midtrans-go/coreapi"
    "github.com/midtrans/midtrans-go/snap"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/travel-payment-reconciliation/internal/config"
)

type snapAPI interface {
    CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type statusAPI interface {
    CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// SnapGateway implements Gateway on top of the Midtrans Snap and Core APIs.
// It is built once in main and injected; nothing in this package keeps a
// global client.
type SnapGateway struct {
    snap      snapAPI
    core      statusAPI
    serverKey string
    clientKey string
    baseURL   string
    timeout   time.Duration
    log       *logrus.Logger
}

// NewSnapGateway configures Snap and Core API clients for the environment
// selected by cfg.Production.
func NewSnapGateway(cfg config.PaymentConfig, log *logrus.Logger) *SnapGateway {
    env := midtrans.Sandbox
    if cfg.Production {
        env = midtrans.Production
    }
    sc := &snap.Client{}
    sc.New(cfg.ServerKey, env)
    cc := &coreapi.Client{}
    cc.New(cfg.ServerKey, env)

    return &SnapGateway{
        snap:      sc,
        core:      cc,
        serverKey: cfg.ServerKey,
        clientKey: cfg.ClientKey,
        baseURL:   cfg.SnapBaseURL(),
        timeout:   cfg.GatewayTimeout,
        log:       log,
    }
}

// CreateTransaction opens a Snap transaction for req.  The call is bounded
// by the configured gateway timeout; on timeout ErrGateway wrapping
// context.DeadlineExceeded is returned.
func (g *SnapGateway) CreateTransaction(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
    sreq := buildSnapRequest(req)
    resp, err := bounded(ctx, g.timeout, func() (*snap.Response, *midtrans.Error) {
        return g.snap.CreateTransaction(sreq)
    })
    if err != nil {
        g.log.WithError(err).WithField("order_id", req.OrderID).Error("[payment][gateway] create transaction failed")
        return nil, err
    }

    res := completeCharge(req.OrderID, req.Amount.StringFixed(2), g.serverKey, g.baseURL, resp)
    res.ClientKey = g.clientKey
    if res.Derived {
        g.log.WithField("order_id", req.OrderID).Warn("[payment][gateway] provider returned no token, using derived token")
    }
    return res, nil
}

// TransactionStatus fetches the provider's status for orderID.
func (g *SnapGateway) TransactionStatus(ctx context.Context, orderID string) (*StatusResult, error) {
    resp, err := bounded(ctx, g.timeout, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
        return g.core.CheckTransaction(orderID)
    })
    if err != nil {
        g.log.WithError(err).WithField("order_id", orderID).Error("[payment][gateway] status check failed")
        return nil, err
    }
    raw, _ := json.Marshal(resp)
    return &StatusResult{
        OrderID:           resp.OrderID,
        TransactionID:     resp.TransactionID,
        TransactionStatus: resp.TransactionStatus,
        FraudStatus:       resp.FraudStatus,
        StatusCode:        resp.StatusCode,
        GrossAmount:       resp.GrossAmount,
        PaymentType:       resp.PaymentType,
        TransactionTime:   resp.TransactionTime,
        SettlementTime:    resp.SettlementTime,
        Raw:               raw,
    }, nil
}

func buildSnapRequest(req ChargeRequest) *snap.Request {
    gross := req.Amount.Round(0).IntPart()
    name := truncate(strings.TrimSpace(req.ItemName), maxItemNameLen)
    if name == "" {
        name = "Travel package"
    }
    return &snap.Request{
        TransactionDetails: midtrans.TransactionDetails{
            OrderID:  req.OrderID,
            GrossAmt: gross,
        },
        CustomerDetail: &midtrans.CustomerDetails{
            FName: truncate(strings.TrimSpace(req.CustomerName), maxNameLen),
            Email: truncate(strings.TrimSpace(req.CustomerEmail), maxEmailLen),
            Phone: truncate(strings.TrimSpace(req.CustomerPhone), maxPhoneLen),
        },
        Items: &[]midtrans.ItemDetails{{
            ID:    req.ItemID,
            Name:  name,
            Price: gross,
            Qty:   1,
        }},
    }
}

// completeCharge turns a Snap response into a ChargeResult, deriving the
// token and redirect URL when the provider left them out.
func completeCharge(orderID, grossAmount, serverKey, baseURL string, resp *snap.Response) *ChargeResult {
    res := &ChargeResult{OrderID: orderID}
    statusCode := ""
    if resp != nil {
        res.Token = resp.Token
        res.RedirectURL = resp.RedirectURL
        statusCode = resp.StatusCode
        res.Raw, _ = json.Marshal(resp)
    }
    if res.Token == "" {
        res.Token = fallbackToken(orderID, statusCode, grossAmount, serverKey)
        res.Derived = true
    }
    if res.RedirectURL == "" {
        res.RedirectURL = checkoutURL(baseURL, res.Token)
    }
    return res
}

type callResult[T any] struct {
    val T
    err *midtrans.Error
}

// bounded runs a blocking SDK call and gives up when ctx or timeout expire.
// The SDK call itself cannot be cancelled, so its goroutine finishes on the
// SDK's own HTTP timeout and the result is dropped.
func bounded[T any](ctx context.Context, timeout time.Duration, call func() (T, *midtrans.Error)) (T, error) {
    ctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()

    done := make(chan callResult[T], 1)
    go func() {
        v, err := call()
        done <- callResult[T]{val: v, err: err}
    }()

    var zero T
    select {
    case <-ctx.Done():
        return zero, fmt.Errorf("%w: provider did not answer: %w", ErrGateway, ctx.Err())
    case r := <-done:
        if r.err != nil {
            return zero, fmt.Errorf("%w: %s", ErrGateway, describe(r.err))
        }
        return r.val, nil
    }
}

// describe renders a provider error without echoing credentials.
func describe(e *midtrans.Error) string {
    msg := strings.TrimSpace(e.Message)
    if msg == "" {
        msg = "request rejected"
    }
    if e.StatusCode != 0 {
        return fmt.Sprintf("provider status %d: %s", e.StatusCode, msg)
    }
    return msg
}
