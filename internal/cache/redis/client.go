package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/pkg/logger"
)

const (
	solverPrefix = "solver:"
	lockPrefix   = "lock:issue:"
)

// releaseScript deletes a lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewClient(host string, port int, password string, db int, lockTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Client{client: client, lockTTL: lockTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns a cached solver answer. Keys arrive already namespaced.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	logger.Debug("Solver cache hit", zap.String("key", key))
	return data, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	logger.Debug("Solver answer cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// InvalidateSolverCache drops every cached solver answer.
func (c *Client) InvalidateSolverCache(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, solverPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Solver cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}

// Acquire takes the advisory lock of an issue. ok is false when another
// holder has it. The lock expires on its own after the configured TTL so a
// crashed holder cannot wedge the issue.
func (c *Client) Acquire(ctx context.Context, issueID string) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	key := lockPrefix + issueID
	ok, err := c.client.SetNX(ctx, key, token, c.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire issue lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logger.Warn("Failed to release issue lock", zap.String("issue_id", issueID), zap.Error(err))
		}
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
