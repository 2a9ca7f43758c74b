// Package flood provides per-client request limiting for the HTTP surface.
package flood

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// windowDuration is the fixed time window for flood detection (always 1 minute)
	windowDuration = 60 * time.Second
	// cleanupInterval is how often we clean up expired entries
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long before we remove idle client entries
	idleTimeout = 10 * time.Minute
	// DefaultMaxClients bounds the number of clients tracked at once
	DefaultMaxClients = 10000
	// maxPreallocTimestamps caps the initial timestamp capacity of a new client
	maxPreallocTimestamps = 64
)

// Floodgate provides per-key sliding window rate limiting.
// A limit of zero or less disables it: every request is allowed.
type Floodgate struct {
	limitPerMinute int
	entries        *lru.Cache[string, *clientEntry] // least recently seen clients are evicted first
	mutex          sync.Mutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

// clientEntry tracks request timestamps for one key
type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limitPerMinute requests per key.
// The time window is fixed at 60 seconds (1 minute)
func New(limitPerMinute int) *Floodgate {
	return NewWithCapacity(limitPerMinute, DefaultMaxClients)
}

// NewWithCapacity creates a Floodgate tracking at most maxClients keys.
func NewWithCapacity(limitPerMinute, maxClients int) *Floodgate {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	entries, _ := lru.New[string, *clientEntry](maxClients)

	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        entries,
		stopCleanup:    make(chan struct{}),
	}

	if fg.Enabled() {
		go fg.cleanup()
	}

	return fg
}

// Enabled reports whether the floodgate limits anything.
func (fg *Floodgate) Enabled() bool {
	return fg.limitPerMinute > 0
}

// Stop stops the background cleanup goroutine
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() {
		close(fg.stopCleanup)
	})
}

// Allow reports whether a request for key should be served.
func (fg *Floodgate) Allow(key string) bool {
	if !fg.Enabled() {
		return true
	}
	now := time.Now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries.Get(key)
	if !exists {
		entry = &clientEntry{
			timestamps: make([]time.Time, 0, min(fg.limitPerMinute+1, maxPreallocTimestamps)),
		}
		fg.entries.Add(key, entry)
	}

	entry.lastSeen = now

	// Remove timestamps outside the window
	windowStart := now.Add(-windowDuration)
	validTimestamps := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			validTimestamps = append(validTimestamps, ts)
		}
	}
	entry.timestamps = validTimestamps

	if len(entry.timestamps) >= fg.limitPerMinute {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// cleanup removes idle client entries
func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that have been idle for too long
func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for _, key := range fg.entries.Keys() {
		if entry, ok := fg.entries.Peek(key); ok && entry.lastSeen.Before(cutoff) {
			fg.entries.Remove(key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	return Stats{
		ActiveClients:  fg.entries.Len(),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
