package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/drain_views.lua
var drainViewsScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const pendingViewsKey = "views:pending"

type Client struct {
	rdb           *redis.Client
	drainScript   *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return New(rdb), nil
}

// New wraps an existing redis client
func New(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		drainScript:   redis.NewScript(drainViewsScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func viewsKey(productID int64) string {
	return fmt.Sprintf("views:%d", productID)
}

// IncrementViews buffers one view of a product. Buffered counts are moved
// to Postgres by the view flusher.
func (c *Client) IncrementViews(ctx context.Context, productID int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, viewsKey(productID))
	pipe.SAdd(ctx, pendingViewsKey, productID)
	_, err := pipe.Exec(ctx)
	return err
}

// PendingViewProducts lists products with buffered views
func (c *Client) PendingViewProducts(ctx context.Context) ([]int64, error) {
	members, err := c.rdb.SMembers(ctx, pendingViewsKey).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			// not ours, drop it so it does not block the set forever
			c.rdb.SRem(ctx, pendingViewsKey, m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DrainViews atomically reads and clears the buffered view count of a product
func (c *Client) DrainViews(ctx context.Context, productID int64) (int64, error) {
	result, err := c.drainScript.Run(ctx, c.rdb, []string{viewsKey(productID), pendingViewsKey}, productID).Result()
	if err != nil {
		return 0, fmt.Errorf("drain views script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return n, nil
}

// RestoreViews puts back a drained count that could not be persisted
func (c *Client) RestoreViews(ctx context.Context, productID, n int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.IncrBy(ctx, viewsKey(productID), n)
	pipe.SAdd(ctx, pendingViewsKey, productID)
	_, err := pipe.Exec(ctx)
	return err
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for key, or "" when absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock; an empty token means the lock is held by someone else.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if it is still owned by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
