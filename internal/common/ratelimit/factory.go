package ratelimit

import (
	"fmt"
	"io"

	"codexec/internal/common/cache"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// New builds the limiter described by cfg. It returns a nil Limiter when
// limiting is disabled. The closer releases the limiter's resources.
func New(cfg Config, redisCfg *cache.RedisConfig) (Limiter, io.Closer, error) {
	if !cfg.Enabled {
		return nil, nopCloser{}, nil
	}
	cfg = cfg.WithDefaults()
	switch cfg.Backend {
	case BackendLocal:
		l := NewLocalLimiter(cfg.RequestsPerMinute, cfg.Burst)
		return l, closerFunc(l.Close), nil
	case BackendRedis:
		if redisCfg == nil {
			return nil, nil, fmt.Errorf("redis backend requires redis config")
		}
		rc, err := cache.NewRedisCacheWithConfig(redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return NewWindowLimiter(rc, cfg), rc, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
