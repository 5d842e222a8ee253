package donation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-donasi/internal/payment"
)

// OrderCache remembers orders created by this service so verification can
// resolve the authoritative amount without another gateway round-trip.
type OrderCache interface {
	Remember(ctx context.Context, order payment.Order, ttl time.Duration) error
	Lookup(ctx context.Context, orderID string) (payment.Order, bool, error)
}

// RedisOrderCache stores orders as JSON under "<prefix>:<order id>".
type RedisOrderCache struct {
	R      redis.Cmdable
	Prefix string
}

func (c RedisOrderCache) key(orderID string) string {
	prefix := strings.TrimSpace(c.Prefix)
	if prefix == "" {
		prefix = "donation:order"
	}
	return prefix + ":" + orderID
}

// Remember implements OrderCache.
func (c RedisOrderCache) Remember(ctx context.Context, order payment.Order, ttl time.Duration) error {
	if c.R == nil {
		return errors.New("donation: order cache not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, c.key(order.ID), raw, ttl).Err()
}

// Lookup implements OrderCache.
func (c RedisOrderCache) Lookup(ctx context.Context, orderID string) (payment.Order, bool, error) {
	if c.R == nil {
		return payment.Order{}, false, nil
	}
	raw, err := c.R.Get(ctx, c.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return payment.Order{}, false, nil
	}
	if err != nil {
		return payment.Order{}, false, err
	}
	var order payment.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return payment.Order{}, false, err
	}
	return order, true, nil
}
