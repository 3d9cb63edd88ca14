package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/urbanfleet/gatekeep/pkg/config"
)

const (
	reaperInterval = 60 * time.Second
	counterMaxAge  = 5 * time.Minute
)

type counterEntry struct {
	count       int
	windowStart time.Time
}

type counterResult struct {
	allowed     bool
	count       int
	windowStart time.Time
}

// windowCounter tracks per-caller request counts in fixed windows. Fixed
// window, not sliding: the count resets at window boundaries, so a caller can
// burst up to twice the limit across a boundary. That tradeoff buys O(1)
// memory and O(1) cost per request and is relied on by the admission tests.
type windowCounter struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

func newWindowCounter() *windowCounter {
	return &windowCounter{entries: make(map[string]counterEntry)}
}

func counterKey(identifier string, category Category) string {
	return identifier + ":" + string(category)
}

// checkAndIncrement records one request for identifier/category and reports
// whether it stays within the configured window limit. The read-modify-write
// runs under the map lock so concurrent requests for the same key cannot both
// slip under the threshold.
func (wc *windowCounter) checkAndIncrement(identifier string, category Category, limit config.CategoryLimit, now time.Time) counterResult {
	key := counterKey(identifier, category)
	window := time.Duration(limit.WindowMs) * time.Millisecond

	wc.mu.Lock()
	defer wc.mu.Unlock()

	entry, ok := wc.entries[key]
	if !ok || now.Sub(entry.windowStart) >= window {
		entry = counterEntry{count: 1, windowStart: now}
		wc.entries[key] = entry
		return counterResult{allowed: true, count: 1, windowStart: now}
	}

	entry.count++
	wc.entries[key] = entry
	return counterResult{
		allowed:     entry.count <= limit.MaxRequests,
		count:       entry.count,
		windowStart: entry.windowStart,
	}
}

// forget drops the entry for identifier/category so the next request after an
// unblock (or block expiry) starts a fresh window.
func (wc *windowCounter) forget(identifier string, category Category) {
	wc.mu.Lock()
	delete(wc.entries, counterKey(identifier, category))
	wc.mu.Unlock()
}

// reap evicts entries whose window started at least maxAge ago and returns
// how many were dropped.
func (wc *windowCounter) reap(maxAge time.Duration, now time.Time) int {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	evicted := 0
	for key, entry := range wc.entries {
		if now.Sub(entry.windowStart) >= maxAge {
			delete(wc.entries, key)
			evicted++
		}
	}
	return evicted
}

func (wc *windowCounter) size() int {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return len(wc.entries)
}

// startReaper bounds counter memory by evicting stale entries on a fixed
// interval until ctx is cancelled at shutdown.
func (wc *windowCounter) startReaper(ctx context.Context, interval, maxAge time.Duration, logger zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug().Msg("counter reaper stopped")
				return
			case now := <-ticker.C:
				if n := wc.reap(maxAge, now); n > 0 {
					logger.Debug().Int("evicted", n).Int("remaining", wc.size()).Msg("reaped stale counter entries")
				}
			}
		}
	}()
}
