package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxEntries bounds the number of tracked identifiers
	defaultMaxEntries = 10000

	// cleanupInterval is how often idle limiters are swept
	cleanupInterval = 5 * time.Minute

	// maxIdleTime is how long a limiter may sit unused before the sweep
	// removes it
	maxIdleTime = 30 * time.Minute
)

// RateLimiter limits operations per identifier (an application id for
// credential exchanges). Entries are evicted least-recently-used when the
// table is full, and idle entries are swept periodically.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	lru         *list.List
	perSecond   rate.Limit
	burst       int
	maxEntries  int
	stopCleanup chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
	elem       *list.Element
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond with the
// given burst per identifier
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		lru:         list.New(),
		perSecond:   rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  defaultMaxEntries,
		stopCleanup: make(chan struct{}),
		logger:      logger,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether the identifier may proceed
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.evictLRU()
		}
		entry = &limiterEntry{
			identifier: identifier,
			limiter:    rate.NewLimiter(rl.perSecond, rl.burst),
		}
		entry.elem = rl.lru.PushFront(entry)
		rl.limiters[identifier] = entry
	} else {
		rl.lru.MoveToFront(entry.elem)
	}
	entry.lastAccess = time.Now()

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (rl *RateLimiter) evictLRU() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lru.Remove(elem)

	rl.logger.Debug("Rate limiter LRU eviction",
		"identifier", entry.identifier,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(maxIdleTime)
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes limiters idle for longer than the given duration
func (rl *RateLimiter) cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) > idle {
			delete(rl.limiters, entry.identifier)
			rl.lru.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Stop terminates the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
