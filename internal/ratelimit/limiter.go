// Package ratelimit bounds concurrent and hourly LLM call volume.
//
// Two bounds apply simultaneously: at most C in-flight acquisitions, and at
// most H successful acquisitions in any rolling one-hour window. The
// concurrency bound is enforced with a weighted semaphore
// (golang.org/x/sync/semaphore); the hourly window has no off-the-shelf
// equivalent, so it is hand-rolled as a pruned timestamp slice: stale
// timestamps older than one hour are pruned on every acquire.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opencoder/swarm/internal/eventbus"
)

// Window is the rolling interval over which the hourly bound is measured.
const Window = time.Hour

// Limiter bounds concurrency and hourly call volume for one population of
// callers (the shared orchestrator limiter, or one per-worker limiter).
type Limiter struct {
	mu sync.Mutex

	maxConcurrent   int
	maxCallsPerHour int

	sem *semaphore.Weighted

	// timestamps records the acquisition time of every call still inside
	// the rolling window, oldest first.
	timestamps []time.Time

	bus   *eventbus.Bus
	label string

	now func() time.Time
}

// Config holds the two bounds a Limiter enforces.
type Config struct {
	MaxConcurrent   int
	MaxCallsPerHour int
}

// New creates a shared or per-worker limiter. label identifies the limiter
// in emitted events (e.g. "shared" or "worker-2"); bus may be nil to
// disable event emission (used in tests).
func New(cfg Config, bus *eventbus.Bus, label string) *Limiter {
	l := &Limiter{
		maxConcurrent:   cfg.MaxConcurrent,
		maxCallsPerHour: cfg.MaxCallsPerHour,
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		bus:             bus,
		label:           label,
		now:             time.Now,
	}
	return l
}

// Acquire blocks until both bounds admit the caller, then records the
// acquisition. The hourly bound is checked first, so a caller throttled by
// it does not hold a concurrency slot while it waits; the semaphore, which
// gives the concurrency bound, is acquired only after hourly admission, and
// that admission is rolled back if the semaphore wait is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAdmitHourly()
		if ok {
			break
		}
		if l.bus != nil {
			l.bus.Emit(eventbus.TopicRateLimitWait, eventbus.Event{
				Message: fmt.Sprintf("%s: hourly limit reached, waiting ~%s", l.label, wait.Round(time.Second)),
				WaitMS:  wait.Milliseconds(),
			})
		}
		select {
		case <-time.After(wait):
			// Re-check both bounds: another waiter may have been admitted
			// while we slept.
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		// Roll back the hourly admission we just recorded.
		l.mu.Lock()
		if n := len(l.timestamps); n > 0 {
			l.timestamps = l.timestamps[:n-1]
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// tryAdmitHourly prunes stale timestamps and, if the hourly bound admits
// one more call right now, records the admission and returns (0, true).
// Otherwise it returns the duration until the oldest timestamp ages out.
func (l *Limiter) tryAdmitHourly() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)

	pruned := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	l.timestamps = pruned

	if len(l.timestamps) < l.maxCallsPerHour {
		l.timestamps = append(l.timestamps, now)
		return 0, true
	}

	wait := l.timestamps[0].Add(Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

// Release frees the concurrency slot, waking one FIFO waiter if any are
// queued on the semaphore.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// UpdateLimits changes both bounds. It never retroactively denies an
// already-admitted caller: the new semaphore simply starts from the
// configured weight; callers that hold an old slot keep it until they
// Release.
func (l *Limiter) UpdateLimits(maxConcurrent, maxCallsPerHour int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxConcurrent = maxConcurrent
	l.maxCallsPerHour = maxCallsPerHour
	l.sem = semaphore.NewWeighted(int64(maxConcurrent))
}
