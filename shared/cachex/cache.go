package cachex

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"jobportal-admin/shared/config"
)

var errNotInitialized = errors.New("redis client not initialized")

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{redis: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// SetNX stores value under key only if the key is absent.
func (c *Client) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	if c == nil || c.redis == nil {
		return false, errNotInitialized
	}
	return c.redis.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Del(ctx, key).Err()
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}

// Set stores value under key unconditionally.
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return c.redis.Set(ctx, key, value, ttl).Err()
}

// Claims backs duplicate-delivery detection for consumers. A claim starts as
// a short processing lease and only becomes a long-lived "done" marker once
// Confirm is called, so a consumer that dies mid-handle does not hide the id.
type Claims struct {
	client *Client
	prefix string
	lease  time.Duration
	ttl    time.Duration
}

func NewClaims(client *Client, prefix string, lease time.Duration, ttl time.Duration) *Claims {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Claims{client: client, prefix: prefix, lease: lease, ttl: ttl}
}

// Claim reports true when id is neither done nor leased by another attempt.
func (c *Claims) Claim(ctx context.Context, id string) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+id, "processing", c.lease)
}

// Confirm marks id as handled for the full ttl.
func (c *Claims) Confirm(ctx context.Context, id string) error {
	return c.client.Set(ctx, c.prefix+id, "done", c.ttl)
}

func (c *Claims) Release(ctx context.Context, id string) error {
	return c.client.Delete(ctx, c.prefix+id)
}
