package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool sizing for a board API whose hot path is short row-locking
// transactions: a modest cap keeps reorder lock queues shallow instead of
// piling waiters onto the same sequence rows.
const (
	poolMaxOpen     = 16
	poolMaxIdle     = 8
	poolMaxIdleTime = 5 * time.Minute
	poolMaxLifetime = 30 * time.Minute
)

// Open connects to Postgres through the pgx stdlib driver, applies the pool
// limits and verifies the connection before returning it.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(poolMaxOpen)
	db.SetMaxIdleConns(poolMaxIdle)
	db.SetConnMaxIdleTime(poolMaxIdleTime)
	db.SetConnMaxLifetime(poolMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
