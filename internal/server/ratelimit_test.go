package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1000, 1024*1024)

	assert.NotNil(t, rl)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.NotNil(t, rl.usage)
}

func TestRateLimiter_CheckQuota_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	for range 5 {
		require.NoError(t, rl.CheckQuota("client1", 100))
	}
	assert.Equal(t, Usage{Requests: 5, Data: 500}, rl.GetUsage("client1"))
	assert.Equal(t, Usage{}, rl.GetUsage("client2"))
}

func TestRateLimiter_CheckQuota_Requests(t *testing.T) {
	rl := NewRateLimiter(2, 0)

	require.NoError(t, rl.CheckQuota("client1", 0))
	require.NoError(t, rl.CheckQuota("client1", 0))

	err := rl.CheckQuota("client1", 0)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "requests", qe.Type)
	assert.Equal(t, int64(2), qe.Limit)
	assert.Equal(t, int64(2), qe.Used)

	assert.NoError(t, rl.CheckQuota("client2", 0), "quotas are per client")
}

func TestRateLimiter_CheckQuota_Data(t *testing.T) {
	rl := NewRateLimiter(0, 1000)

	require.NoError(t, rl.CheckQuota("client1", 600))
	err := rl.CheckQuota("client1", 600)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "data", qe.Type)
	assert.Equal(t, int64(600), qe.Used)

	assert.Equal(t, Usage{Requests: 1, Data: 600}, rl.GetUsage("client1"), "rejected requests are not counted")
	require.NoError(t, rl.CheckQuota("client1", 400))
}

func TestRateLimiter_ResetsDaily(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 0)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.CheckQuota("client1", 0))
	err := rl.CheckQuota("client1", 0)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), qe.Resets)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, rl.CheckQuota("client1", 0))
}

func TestQuotaExceededError_Error(t *testing.T) {
	err := &QuotaExceededError{
		Type:   "data",
		Limit:  10,
		Used:   8,
		Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "quota exceeded for data (used: 8, limit: 10, resets: 2026-01-02T00:00:00Z)", err.Error())
}
