package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns = 25
	connMaxLifetime     = 30 * time.Minute
	connMaxIdleTime     = 10 * time.Minute
	openPingTimeout     = 5 * time.Second
)

// NewPostgresDB opens a pgx-backed *sql.DB pool sized for maxOpenConns and
// verifies the connection with a bounded ping. A non-positive maxOpenConns
// selects the default pool size; idle connections are capped at a fifth of
// the pool so a quiet coordinator does not hold the database's slots.
func NewPostgresDB(dsn string, maxOpenConns int) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdle := maxOpenConns / 5
	if maxIdle < 2 {
		maxIdle = 2
	}

	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxOpenConns)
	pool.SetMaxIdleConns(maxIdle)
	pool.SetConnMaxLifetime(connMaxLifetime)
	pool.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
