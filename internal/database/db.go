package database

import (
    "context"
    "database/sql"
    "net"
    "time"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/travel-payment-reconciliation/internal/config"
)

// DSN renders the driver connection string for cfg.
// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
func DSN(cfg config.DBConfig) string {
    mc := mysql.NewConfig()
    mc.User = cfg.User
    mc.Passwd = cfg.Pass
    mc.Net = "tcp"
    mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
    mc.DBName = cfg.Name
    mc.ParseTime = true
    mc.Loc = time.UTC
    mc.Params = map[string]string{
        "charset": "utf8mb4",
        // row locks on bookings should fail fast enough for the engine to retry
        "innodb_lock_wait_timeout": "10",
    }
    return mc.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(cfg config.DBConfig) (*sql.DB, error) {
    db, err := sql.Open("mysql", DSN(cfg))
    if err != nil {
        return nil, err
    }

    // Pool settings
    db.SetMaxOpenConns(25)
    db.SetMaxIdleConns(25)
    db.SetConnMaxLifetime(30 * time.Minute)

    // Ping with timeout
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return db, nil
}
