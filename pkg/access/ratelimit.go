package access

import (
	"sync"
	"time"
)

// Default rate-limit ceilings.
const (
	DefaultPerMinute = 100
	DefaultPerHour   = 1000
)

// Limiter is a sliding-window-by-fixed-bucket rate limiter. Each caller
// identity gets a minute-bucket map and an hour-bucket map keyed by
// floor(unix time / window length); a request is rejected once the current
// bucket reaches the ceiling. Buckets older than the previous window are
// pruned on every check, so state stays bounded at two entries per window
// per active caller.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	minutes   map[string]map[int64]int
	hours     map[string]map[int64]int

	now func() time.Time // test seam
}

// NewLimiter creates a limiter with the given ceilings. Non-positive
// ceilings fall back to the defaults.
func NewLimiter(perMinute, perHour int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		minutes:   make(map[string]map[int64]int),
		hours:     make(map[string]map[int64]int),
		now:       time.Now,
	}
}

// SetLimits replaces the ceilings at runtime.
func (l *Limiter) SetLimits(perMinute, perHour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute > 0 {
		l.perMinute = perMinute
	}
	if perHour > 0 {
		l.perHour = perHour
	}
}

// Limits returns the current ceilings.
func (l *Limiter) Limits() (perMinute, perHour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perMinute, l.perHour
}

// Allow records a request for identity and reports whether it is within
// both windows. When rejected, retryAfter is the time remaining until the
// exhausted bucket's boundary.
func (l *Limiter) Allow(identity string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	unix := now.Unix()
	minIdx := unix / 60
	hrIdx := unix / 3600

	minBuckets := l.bucket(l.minutes, identity)
	hrBuckets := l.bucket(l.hours, identity)
	prune(minBuckets, minIdx)
	prune(hrBuckets, hrIdx)

	if minBuckets[minIdx] >= l.perMinute {
		return false, time.Duration((minIdx+1)*60-unix) * time.Second
	}
	if hrBuckets[hrIdx] >= l.perHour {
		return false, time.Duration((hrIdx+1)*3600-unix) * time.Second
	}

	minBuckets[minIdx]++
	hrBuckets[hrIdx]++
	return true, 0
}

func (l *Limiter) bucket(m map[string]map[int64]int, identity string) map[int64]int {
	b, ok := m[identity]
	if !ok {
		b = make(map[int64]int, 2)
		m[identity] = b
	}
	return b
}

// prune drops every bucket older than the previous window.
func prune(buckets map[int64]int, current int64) {
	for idx := range buckets {
		if idx < current-1 {
			delete(buckets, idx)
		}
	}
}
