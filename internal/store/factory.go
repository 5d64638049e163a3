package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// DriverType selects the backing medium for a tab's transcripts.
type DriverType string

const (
	DriverTypeMemory DriverType = "memory"
	DriverTypeRedis  DriverType = "redis"
)

// DriverOption is a functional option for configuring a driver.
type DriverOption func(*driverConfig)

type driverConfig struct {
	redisClient *redis.Client
	tabID       string
	ttl         time.Duration
}

// WithRedisClient sets the shared redis client for the redis driver.
func WithRedisClient(client *redis.Client) DriverOption {
	return func(c *driverConfig) {
		c.redisClient = client
	}
}

// WithTabID scopes a driver's keys to one tab. Required for redis.
func WithTabID(tabID string) DriverOption {
	return func(c *driverConfig) {
		c.tabID = tabID
	}
}

// WithTTL bounds how long an idle tab's data survives in redis.
func WithTTL(ttl time.Duration) DriverOption {
	return func(c *driverConfig) {
		c.ttl = ttl
	}
}

// NewDriver creates a per-tab driver of the given type.
func NewDriver(driverType DriverType, opts ...DriverOption) (Driver, error) {
	config := &driverConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch driverType {
	case DriverTypeMemory:
		return NewMemoryDriver(), nil
	case DriverTypeRedis:
		if config.redisClient == nil || config.tabID == "" {
			return nil, ErrInvalidConfig
		}
		return NewRedisDriver(config.redisClient, config.tabID, config.ttl), nil
	default:
		return nil, ErrInvalidDriverType
	}
}
