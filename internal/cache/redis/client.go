// Package redis caches LLM route suggestions keyed by question hash.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/pkg/logger"
)

const routePrefix = "route:"

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Password:    password,
		DB:          db,
		DialTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetRoute(ctx context.Context, questionHash string, suggestion any, ttl time.Duration) error {
	data, err := json.Marshal(suggestion)
	if err != nil {
		return fmt.Errorf("failed to marshal route suggestion: %w", err)
	}

	if err := c.client.Set(ctx, routePrefix+questionHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set route cache: %w", err)
	}

	logger.Debug("Route suggestion cached", zap.String("question_hash", questionHash), zap.Duration("ttl", ttl))
	return nil
}

// GetRoute decodes the cached suggestion into dst and reports whether one was found.
func (c *Client) GetRoute(ctx context.Context, questionHash string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, routePrefix+questionHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get route cache: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal route suggestion: %w", err)
	}

	logger.Debug("Route cache hit", zap.String("question_hash", questionHash))
	return true, nil
}

// InvalidateRoutes drops every cached suggestion, e.g. after the intent table changes.
func (c *Client) InvalidateRoutes(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, routePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Route cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
