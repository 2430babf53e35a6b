// Package redis opens the optional shared cache connection.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"warden/internal/platform/config"
	"warden/pkg/platform/sentinel"
)

// Client is a go-redis client that doubles as a readiness check.
type Client struct {
	*redis.Client
}

// New dials cfg.URL and verifies it with PING. An empty URL yields a nil
// client and no error; callers then run without the shared cache.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("ping redis %s: %w: %w", opts.Addr, sentinel.ErrUnavailable, err)
	}
	return &Client{Client: rc}, nil
}

func clientOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	overridePositive(&opts.PoolSize, cfg.PoolSize)
	overridePositive(&opts.MinIdleConns, cfg.MinIdleConns)
	overridePositive(&opts.DialTimeout, cfg.DialTimeout)
	overridePositive(&opts.ReadTimeout, cfg.ReadTimeout)
	overridePositive(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func overridePositive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
