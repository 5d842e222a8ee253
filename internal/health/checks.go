package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
)

// Check is one readiness dependency.
type Check struct {
	Name    string
	Timeout time.Duration
	Ping    func(context.Context) error
}

// Postgres checks the pool with a round trip.
func Postgres(pool *pgxpool.Pool, timeout time.Duration) Check {
	return Check{Name: "db", Timeout: timeout, Ping: pool.Ping}
}

// Redis checks the client with PING.
func Redis(client redis.Cmdable, timeout time.Duration) Check {
	return Check{Name: "redis", Timeout: timeout, Ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}
