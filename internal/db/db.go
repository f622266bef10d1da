package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Open opens the schedule database. SQLite is limited to a single
// connection that never expires so an in-memory database stays shared.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case DriverPostgres:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// PingWithRetry pings with exponential backoff until maxElapsed passes.
func PingWithRetry(ctx context.Context, db *sql.DB, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	return backoff.RetryNotify(
		func() error { return Ping(ctx, db) },
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			slog.Warn("schedule database not ready, retrying", "in", d, "error", err)
		},
	)
}
