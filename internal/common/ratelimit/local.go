package ratelimit

import (
	"context"
	"sync"
	"time"

	pkgerrors "codexec/pkg/errors"

	"golang.org/x/time/rate"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultIdleTTL       = time.Hour
)

type keyedBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*keyedBucket
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocalLimiter creates a limiter admitting requestsPerMinute per key with the given burst.
// Idle buckets are swept in the background until Close is called.
func NewLocalLimiter(requestsPerMinute, burst int) *LocalLimiter {
	l := newLocalLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)
	go l.sweepLoop(defaultSweepInterval)
	return l
}

func newLocalLimiter(r rate.Limit, burst int) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*keyedBucket),
		rate:    r,
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) error {
	if l.bucket(key).AllowN(l.now(), 1) {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.TooManyRequests, "rate limit exceeded for %s", key)
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &keyedBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Sweep drops buckets not seen within the idle TTL and returns how many were removed.
func (l *LocalLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

func (l *LocalLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Close stops the background sweeper.
func (l *LocalLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
