package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// PoolOptions sizes the connection pool. Zero values take the defaults.
type PoolOptions struct {
	MaxOpen      int
	MaxIdle      int
	MaxIdleTime  time.Duration
	MaxLifetime  time.Duration
	PingAttempts int
	PingDelay    time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxOpen <= 0 {
		o.MaxOpen = 20
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = 10
	}
	if o.MaxIdleTime <= 0 {
		o.MaxIdleTime = 5 * time.Minute
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = 30 * time.Minute
	}
	if o.PingAttempts <= 0 {
		o.PingAttempts = 10
	}
	if o.PingDelay <= 0 {
		o.PingDelay = time.Second
	}
	return o
}

// Open connects with the default pool settings.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenWithOptions(ctx, databaseURL, PoolOptions{})
}

// OpenWithOptions opens the pgx-backed pool and waits for Postgres to accept
// connections, so the API can start alongside its database container.
func OpenWithOptions(ctx context.Context, databaseURL string, opts PoolOptions) (*sql.DB, error) {
	opts = opts.withDefaults()
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxIdleTime(opts.MaxIdleTime)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	ping := func() error { return db.PingContext(ctx) }
	notify := func(err error, attempt int) {
		log.Printf("store: ping attempt %d failed: %v", attempt, err)
	}
	err = retry.Call(retry.CallArgs{
		Func:       ping,
		NotifyFunc: notify,
		Attempts:   opts.PingAttempts,
		Delay:      opts.PingDelay,
		Clock:      clock.WallClock,
		Stop:       ctx.Done(),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", retry.LastError(err))
	}
	return db, nil
}
