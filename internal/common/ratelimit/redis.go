package ratelimit

import (
	"context"
	"fmt"
	"time"

	"codexec/internal/common/cache"
	pkgerrors "codexec/pkg/errors"
)

// WindowLimiter enforces a fixed-window count shared through Redis, so several
// server replicas see the same budget.
type WindowLimiter struct {
	cache        cache.Counter
	prefix       string
	max          int
	window       time.Duration
	redisTimeout time.Duration
}

func NewWindowLimiter(counter cache.Counter, cfg Config) *WindowLimiter {
	cfg = cfg.WithDefaults()
	return &WindowLimiter{
		cache:        counter,
		prefix:       cfg.KeyPrefix,
		max:          cfg.Max,
		window:       cfg.Window,
		redisTimeout: cfg.RedisTimeout,
	}
}

func (s *WindowLimiter) Allow(ctx context.Context, key string) error {
	if s.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if s.max <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	fullKey := s.prefix + ":" + key
	acquired, err := s.cache.SetNX(ctxCache, fullKey, 1, s.window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = s.cache.Incr(ctxCache, fullKey)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key left without expiry would block forever.
		ttl, ttlErr := s.cache.TTL(ctxCache, fullKey)
		if ttlErr == nil && ttl <= 0 {
			_ = s.cache.Expire(ctxCache, fullKey, s.window)
		}
	}
	if int(count) > s.max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
