// Package filelock provides per-path mutual exclusion for concurrent
// workers editing files in the same project tree. There is no suitable
// off-the-shelf primitive for this, so it is hand-rolled: one mutex guards a
// map of per-path entries, each recording the holding worker, its
// re-entrancy depth, and a FIFO queue of waiters that are woken one at a
// time through their own channels.
package filelock

import (
	"path/filepath"
	"strings"
	"sync"
)

// normalize makes path comparison case-insensitive and separator-stable, so
// "Src/Main.go" and "src/main.go" contend for the same lock on
// case-insensitive filesystems.
func normalize(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

type waiter struct {
	workerID int
	wake     chan struct{}
}

type entry struct {
	holder int // worker id currently holding the lock, or -1 if free
	depth  int // re-entrancy count for the current holder
	queue  []waiter
}

// Locker grants one worker at a time exclusive access to a given path.
// The same worker may re-acquire a path it already holds without blocking.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Acquire blocks until workerID holds path exclusively, then returns. It is
// re-entrant: a worker that already holds path may call Acquire again
// without blocking, provided it calls Release the same number of times.
func (l *Locker) Acquire(workerID int, path string) {
	key := normalize(path)

	for {
		l.mu.Lock()
		e, ok := l.entries[key]
		if !ok {
			e = &entry{holder: -1}
			l.entries[key] = e
		}

		if e.holder == -1 {
			e.holder = workerID
			e.depth = 1
			l.mu.Unlock()
			return
		}
		if e.holder == workerID {
			e.depth++
			l.mu.Unlock()
			return
		}

		w := waiter{workerID: workerID, wake: make(chan struct{})}
		e.queue = append(e.queue, w)
		l.mu.Unlock()

		<-w.wake
		// Release handed the lock directly to workerID before waking it;
		// fall through and return rather than re-contend for the mutex.
		return
	}
}

// Release gives up one level of workerID's hold on path. Once the
// re-entrancy depth reaches zero, the next FIFO waiter (if any) is woken.
func (l *Locker) Release(workerID int, path string) {
	key := normalize(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.holder != workerID {
		return
	}

	e.depth--
	if e.depth > 0 {
		return
	}

	if len(e.queue) == 0 {
		e.holder = -1
		return
	}

	next := e.queue[0]
	e.queue = e.queue[1:]
	e.holder = next.workerID
	e.depth = 1
	close(next.wake)
}

// Holder reports which worker currently holds path, or -1 if it is free.
// Intended for diagnostics; callers must not rely on it for synchronization
// since the answer can change immediately after the call returns.
func (l *Locker) Holder(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[normalize(path)]
	if !ok {
		return -1
	}
	return e.holder
}
