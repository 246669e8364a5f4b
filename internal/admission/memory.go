package admission

import (
	"sync"
	"time"
)

// memoryQuota mirrors the scripted quota semantics in-process. Exact within
// one gateway instance; a fleet sharing only memory counters over-admits.
type memoryQuota struct {
	mu       sync.Mutex
	day      string
	counters map[string]int
}

func newMemoryQuota() *memoryQuota {
	return &memoryQuota{counters: make(map[string]int)}
}

// Consume decrements units from the counter for key, initializing from
// limit. Keys embed the calendar day, so on rollover the previous day's
// counters are dropped wholesale instead of accumulating forever. On
// insufficiency the counter is untouched and the remaining count comes back
// encoded as -2-remaining, matching the scripted variant.
func (q *memoryQuota) Consume(key string, limit, units int, day string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if day != q.day {
		q.day = day
		q.counters = make(map[string]int)
	}
	remaining, ok := q.counters[key]
	if !ok {
		remaining = limit
		q.counters[key] = remaining
	}
	if remaining == quotaUnlimited {
		return quotaResultUnlimited
	}
	if remaining < units {
		return quotaResultInsufficient - remaining
	}
	remaining -= units
	q.counters[key] = remaining
	return remaining
}

type rateEntry struct {
	window int64
	tokens int
}

// memoryRate is a fixed one-second-window token bucket.
type memoryRate struct {
	mu      sync.Mutex
	buckets map[string]*rateEntry
}

func newMemoryRate() *memoryRate {
	return &memoryRate{buckets: make(map[string]*rateEntry)}
}

// Take consumes one token for key within the current second.
func (r *memoryRate) Take(key string, limit int, now time.Time) bool {
	sec := now.Unix()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.buckets[key]
	if entry == nil {
		entry = &rateEntry{window: sec, tokens: limit}
		r.buckets[key] = entry
	}
	if entry.window != sec {
		entry.window = sec
		entry.tokens = limit
	}
	if entry.tokens <= 0 {
		return false
	}
	entry.tokens--
	return true
}
