package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client daily quotas on requests and uploaded
// bytes. The per-minute request rate is handled by httprate.
type RateLimiter struct {
	mu sync.Mutex

	maxRequestsPerDay int
	maxDataPerDay     int64 // in bytes

	now   func() time.Time
	usage map[string]*clientUsage
}

type clientUsage struct {
	requestsToday int
	dataToday     int64
	day           time.Time
}

// Usage is a snapshot of one client's consumption for the current day.
type Usage struct {
	Requests int
	Data     int64
}

// NewRateLimiter creates a quota limiter. A zero limit disables that quota.
func NewRateLimiter(maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		now:               time.Now,
		usage:             make(map[string]*clientUsage),
	}
}

// CheckQuota records a request of dataSize bytes from clientID, or returns a
// *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckQuota(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	day := truncateDay(now)
	u, ok := rl.usage[clientID]
	if !ok || !u.day.Equal(day) {
		u = &clientUsage{day: day}
		rl.usage[clientID] = u
	}
	resets := day.AddDate(0, 0, 1)

	if rl.maxRequestsPerDay > 0 && u.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(u.requestsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && u.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   u.dataToday,
			Resets: resets,
		}
	}

	u.requestsToday++
	u.dataToday += dataSize
	return nil
}

// GetUsage returns today's usage for clientID.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.usage[clientID]
	if !ok || !u.day.Equal(truncateDay(rl.now())) {
		return Usage{}
	}
	return Usage{Requests: u.requestsToday, Data: u.dataToday}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
