package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reservation-engine/internal/models"
)

// Client wraps Redis for availability caching with cluster support. The
// cache is an acceleration layer only; every reservation decision runs
// against the database under row locks.
type Client struct {
	client    redis.UniversalClient // supports both single node and cluster
	ttl       time.Duration
	keyPrefix string
}

// NewClient creates a new Redis cache client with cluster support
func NewClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *Client {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			Password:     password,
			MaxRetries:   3,
			PoolSize:     50,
			MinIdleConns: 5,
			PoolTimeout:  30 * time.Second,
			// Cluster-specific options
			MaxRedirects:   8,
			ReadOnly:       false,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0, // DB is not supported in cluster mode
			PoolSize: 10,
		})
	}

	return &Client{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetAvailability retrieves the availability snapshot for one target. A
// cache miss returns (nil, nil).
func (c *Client) GetAvailability(ctx context.Context, target models.Target) (*models.StockState, error) {
	key := c.availabilityKey(target)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to get availability from cache")
		return nil, models.NewSystemError(models.ErrorCodeCacheError, "redis", "failed to get availability", err)
	}

	var state models.StockState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to unmarshal cached availability")
		return nil, fmt.Errorf("failed to unmarshal cached availability: %w", err)
	}

	log.Debug().Str("target", target.Key()).Msg("Cache hit for availability")
	return &state, nil
}

// SetAvailability stores an availability snapshot in cache
func (c *Client) SetAvailability(ctx context.Context, state *models.StockState) error {
	target := models.Target{ProductID: state.ProductID, VariantID: state.VariantID}
	key := c.availabilityKey(target)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal availability: %w", err)
	}

	err = c.client.Set(ctx, key, data, c.ttl).Err()
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to set availability in cache")
		return models.NewSystemError(models.ErrorCodeCacheError, "redis", "failed to set availability", err)
	}

	log.Debug().Str("target", target.Key()).Msg("Cached availability")
	return nil
}

// DeleteAvailability removes an availability snapshot from cache
func (c *Client) DeleteAvailability(ctx context.Context, target models.Target) error {
	key := c.availabilityKey(target)

	err := c.client.Del(ctx, key).Err()
	if err != nil {
		log.Error().Err(err).Str("target", target.Key()).Msg("Failed to delete availability from cache")
		return models.NewSystemError(models.ErrorCodeCacheError, "redis", "failed to delete availability", err)
	}

	log.Debug().Str("target", target.Key()).Msg("Deleted availability from cache")
	return nil
}

// Ping checks if Redis is available
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// availabilityKey generates the cache key for one target with prefix
func (c *Client) availabilityKey(target models.Target) string {
	return fmt.Sprintf("%savailability:%s", c.keyPrefix, target.Key())
}
