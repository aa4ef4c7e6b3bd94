package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"

    "github.com/iliyamo/travel-payment-reconciliation/internal/config"
    "github.com/iliyamo/travel-payment-reconciliation/internal/database"
    "github.com/iliyamo/travel-payment-reconciliation/internal/gateway"
    "github.com/iliyamo/travel-payment-reconciliation/internal/handler"
    "github.com/iliyamo/travel-payment-reconciliation/internal/logging"
    "github.com/iliyamo/travel-payment-reconciliation/internal/middleware"
    "github.com/iliyamo/travel-payment-reconciliation/internal/repository"
    "github.com/iliyamo/travel-payment-reconciliation/internal/router"
    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

func main() {
    _ = godotenv.Load() // .env is optional; real env vars win

    cfg := config.Load()
    log := logging.New(cfg.Env, cfg.LogLevel)

    db, err := database.Open(cfg.DB)
    if err != nil {
        log.WithError(err).Fatal("database connection failed")
    }
    defer db.Close()

    rdb, err := config.NewRedisClient(config.LoadRedisConfig())
    if err != nil {
        log.WithError(err).Warn("redis unavailable; rate limiting disabled")
    } else {
        defer rdb.Close()
    }

    bookings := repository.NewBookingRepo(db)
    bookings.SetLockRetry(cfg.Payment.LockRetries, cfg.Payment.LockRetryBackoff)
    payments := repository.NewPaymentRepo(db)
    notes := repository.NewNotificationRepo(db)

    gw := gateway.NewSnapGateway(cfg.Payment, log)
    events := service.NewRabbitPublisher(cfg.RabbitURL, log)
    engine := service.NewReconciler(bookings, payments, gw, events, log)
    queries := service.NewStatusService(bookings, payments)

    if !cfg.Payment.RequireWebhookSignature {
        log.Warn("PAYMENT_REQUIRE_WEBHOOK_SIGNATURE=false: webhook signatures are NOT verified")
    }

    h := router.Handlers{
        Health:       handler.NewHealthHandler(db),
        Notification: handler.NewNotificationHandler(engine, notes, cfg.Payment.ServerKey, cfg.Payment.RequireWebhookSignature, log),
        Payment:      handler.NewPaymentHandler(engine, queries, notes, log),
        Manual:       handler.NewManualPaymentHandler(engine, log),
        Booking:      handler.NewBookingHandler(engine, queries, log),
    }
    limits := router.Limits{
        Webhook: middleware.NewTokenBucket(config.LoadRateLimitConfig("webhook"), rdb, log),
        API:     middleware.NewTokenBucket(config.LoadRateLimitConfig("api"), rdb, log),
    }

    e := echo.New()
    e.HideBanner = true
    e.Debug = !cfg.IsProduction()
    e.Validator = handler.NewRequestValidator()
    e.Use(echomw.Recover())
    e.Use(middleware.RequestID())
    e.Use(middleware.RequestLogger(log))

    router.RegisterRoutes(e, h, limits)
    router.RegisterPayment(e, h, limits, cfg.JWTSecret)
    router.RegisterAdmin(e, h, limits, cfg.JWTSecret)
    router.RegisterBooking(e, h, limits, cfg.JWTSecret)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    addr := ":" + cfg.Port
    go func() {
        log.WithField("addr", addr).WithField("env", cfg.Env).Info("listening")
        if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.WithError(err).Fatal("server failed")
        }
    }()

    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := e.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Error("graceful shutdown failed")
    }
    log.Info("server stopped")
}
