package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/config"
	"github.com/namnv2496/bytescript/internal/model"
)

const testCaseKeyPrefix = "testcases:"

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// CachedTestCases serves problem test case lists from Redis, falling back to
// the wrapped store. Cache failures are logged and never fail a request.
type CachedTestCases struct {
	next   TestCaseStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedTestCases(next TestCaseStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedTestCases {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTestCases{next: next, client: client, ttl: ttl, logger: logger}
}

func testCaseKey(problemID string) string {
	return testCaseKeyPrefix + problemID
}

func (c *CachedTestCases) ListByProblem(ctx context.Context, problemID string) ([]model.TestCase, error) {
	key := testCaseKey(problemID)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cases []model.TestCase
		if err := json.Unmarshal(data, &cases); err == nil {
			return cases, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	case !stderrors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	cases, err := c.next.ListByProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	// Empty lists are not cached so a problem becomes runnable as soon as its
	// first case is written through another instance.
	if len(cases) == 0 {
		return cases, nil
	}
	if data, err := json.Marshal(cases); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return cases, nil
}

func (c *CachedTestCases) Get(ctx context.Context, problemID, id string) (*model.TestCase, error) {
	return c.next.Get(ctx, problemID, id)
}

func (c *CachedTestCases) Create(ctx context.Context, tc *model.TestCase) error {
	if err := c.next.Create(ctx, tc); err != nil {
		return err
	}
	c.invalidate(ctx, tc.ProblemID)
	return nil
}

func (c *CachedTestCases) Delete(ctx context.Context, problemID, id string) error {
	if err := c.next.Delete(ctx, problemID, id); err != nil {
		return err
	}
	c.invalidate(ctx, problemID)
	return nil
}

func (c *CachedTestCases) invalidate(ctx context.Context, problemID string) {
	if err := c.client.Del(ctx, testCaseKey(problemID)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("problem_id", problemID), zap.Error(err))
	}
}
