package limits

import (
	"runtime/metrics"
	"sync"
	"time"
)

const (
	liveHeapMetric = "/gc/heap/live:bytes"

	DefaultWatchInterval = 5 * time.Millisecond
)

// WatchHeap polls the live heap measured by the last GC and calls exceeded
// once if it grows past budget. The returned function stops polling.
func WatchHeap(budget uint64, interval time.Duration, exceeded func(live uint64)) (stop func()) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		samples := []metrics.Sample{{Name: liveHeapMetric}}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			metrics.Read(samples)
			if samples[0].Value.Kind() != metrics.KindUint64 {
				return
			}
			if live := samples[0].Value.Uint64(); live > budget {
				exceeded(live)
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
