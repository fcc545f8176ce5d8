// Package memguard watches heap growth while an embedded interpreter runs
// and interrupts it once the growth exceeds a ceiling.
//
// The Go runtime has no per-goroutine accounting, so the measurement is the growth of the
// process-wide live heap since the watch started. Concurrent runs therefore see each other's
// allocations; the ceiling is an upper bound per run, not an exact quota.
// A sample over the ceiling is confirmed after a forced collection, so short lived
// garbage from elsewhere in the process does not interrupt a run.
package memguard

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// DefaultInterval is how often the heap is sampled.
const DefaultInterval = 10 * time.Millisecond

// Guard is a running watch. Stop must be called once the guarded run is over.
type Guard struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	exceeded bool
	peak     uint64
}

// Watch starts sampling the heap every interval and calls onExceed at most once
// if it grows by more than limit bytes. A zero limit disables the guard.
func Watch(limit uint64, interval time.Duration, onExceed func()) *Guard {
	g := &Guard{stop: make(chan struct{}), done: make(chan struct{})}
	if limit == 0 {
		close(g.done)
		return g
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	baseline := heapBytes()
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				growth := growthSince(baseline)
				if growth > limit {
					// garbage left by other goroutines inflates the sample; only live data counts
					runtime.GC()
					growth = growthSince(baseline)
				}
				g.mu.Lock()
				if growth > g.peak {
					g.peak = growth
				}
				over := growth > limit && !g.exceeded
				if over {
					g.exceeded = true
				}
				g.mu.Unlock()
				if over {
					onExceed()
					return
				}
			}
		}
	}()
	return g
}

// Stop ends the watch and waits for the sampler to exit.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}

// Exceeded reports whether the ceiling was hit.
func (g *Guard) Exceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exceeded
}

// PeakGrowth is the largest heap growth observed, in bytes.
func (g *Guard) PeakGrowth() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func growthSince(baseline uint64) uint64 {
	cur := heapBytes()
	if cur <= baseline {
		return 0
	}
	return cur - baseline
}

func heapBytes() uint64 {
	s := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}
