// Package ratelimit provides per-key request limiters for the execute endpoint.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request for key may proceed.
// A nil error admits the request; a TooManyRequests error rejects it.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Backend names accepted in Config.Backend.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Config selects and sizes a limiter.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	// Local token bucket.
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	Burst             int `yaml:"burst"`
	// Redis fixed window.
	Window       time.Duration `yaml:"window"`
	Max          int           `yaml:"max"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Max <= 0 {
		c.Max = c.RequestsPerMinute
	}
	if c.RedisTimeout <= 0 {
		c.RedisTimeout = 200 * time.Millisecond
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "codexec:rate"
	}
	return c
}
