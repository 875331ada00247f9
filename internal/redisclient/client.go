package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireOrderLock takes a short-lived lock serializing reconciler work
// for one order id across webhook, poll and cancel handlers.
func (c *Client) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("paylock:%s", orderID), "1", ttl).Result()
}

// ReleaseOrderLock releases the per-order lock
func (c *Client) ReleaseOrderLock(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("paylock:%s", orderID)).Err()
}

// GetPaymentStatus returns the cached normalized status for an order id,
// or "" on a cache miss.
func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (string, error) {
	status, err := c.rdb.Get(ctx, fmt.Sprintf("paystatus:%s", orderID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return status, err
}

// SetPaymentStatus caches the normalized status for the poll endpoint
func (c *Client) SetPaymentStatus(ctx context.Context, orderID, status string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("paystatus:%s", orderID), status, ttl).Err()
}
