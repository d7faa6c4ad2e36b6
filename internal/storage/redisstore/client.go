// Package redisstore provides the shared-store implementations of the lobby
// membership store and broadcast bus, backed by Redis. Configuring a Redis
// URL turns a set of independent server processes into one logical cluster:
// membership lives in Redis hashes and broadcasts travel over Redis pub/sub.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a redis client with health-check and lifecycle methods.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis using the given connection URL.
//
// Precondition: url must be a valid redis connection string.
// Postcondition: Returns a connected Client or a non-nil error. The client
// has answered a PING upon successful return.
func NewClient(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Health checks that Redis is reachable within the given timeout.
//
// Postcondition: Returns nil if Redis responds within the timeout.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client's connections.
//
// Postcondition: The client is no longer usable after calling Close.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// DB returns the underlying redis client for use by the store and bus.
func (c *Client) DB() *redis.Client {
	return c.rdb
}
