package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/metrics"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
	"github.com/regwatch/backend/pkg/utils"
)

// Client caches external registry lookups so repeat resolutions of the same
// organization name do not hammer the registry API.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func lookupKey(nameOrNumber string) string {
	return fmt.Sprintf("registry:%s", utils.HashString(nameOrNumber))
}

// SetLookup caches the candidate list for one registry query.
func (c *Client) SetLookup(ctx context.Context, nameOrNumber string, candidates []models.CandidateCompany) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	if err := c.client.Set(ctx, lookupKey(nameOrNumber), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set registry cache: %w", err)
	}

	logger.Debug("Registry lookup cached", zap.String("query", nameOrNumber))
	return nil
}

// GetLookup returns the cached candidate list, reporting whether it was
// found.
func (c *Client) GetLookup(ctx context.Context, nameOrNumber string) ([]models.CandidateCompany, bool, error) {
	data, err := c.client.Get(ctx, lookupKey(nameOrNumber)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("registry").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get registry cache: %w", err)
	}

	var candidates []models.CandidateCompany
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}

	metrics.CacheHits.WithLabelValues("registry").Inc()
	logger.Debug("Registry cache hit", zap.String("query", nameOrNumber))
	return candidates, true, nil
}

// Invalidate drops all cached registry lookups.
func (c *Client) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "registry:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Registry cache invalidated")
	return nil
}
