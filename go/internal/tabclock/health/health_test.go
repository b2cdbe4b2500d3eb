package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tabclock/go/internal/tabclock/coordinator"
)

type fixedStats coordinator.Stats

func (f *fixedStats) Stats() coordinator.Stats { return coordinator.Stats(*f) }

var now = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

func leaderStats(lastTick time.Time) *fixedStats {
	return &fixedStats{
		ID:           "tab-1",
		Role:         coordinator.Leader.String(),
		BusConnected: true,
		Interval:     100 * time.Millisecond,
		LastTick:     lastTick,
		Ticks:        42,
	}
}

func TestCheck_HealthyLeader(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	status := NewClockChecker(leaderStats(now.Add(-200*time.Millisecond)), clock, 0).Check(context.Background())

	assert.True(t, status.Healthy)
	assert.Empty(t, status.Errors)
	assert.EqualValues(t, 42, status.Ticks)
}

func TestCheck_StaleLeader(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	status := NewClockChecker(leaderStats(now.Add(-time.Second)), clock, 0).Check(context.Background())

	assert.False(t, status.Healthy)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "has not ticked")
}

func TestCheck_LeaderNeverTickedUsesStartTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	checker := NewClockChecker(leaderStats(time.Time{}), clock, 0)
	assert.True(t, checker.Check(context.Background()).Healthy)

	clock.Advance(time.Second)
	assert.False(t, checker.Check(context.Background()).Healthy)
}

func TestCheck_FollowerNeverStale(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	stats := leaderStats(now.Add(-time.Hour))
	stats.Role = coordinator.Follower.String()

	assert.True(t, NewClockChecker(stats, clock, 0).Check(context.Background()).Healthy)
}

func TestCheck_BusDisconnected(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	stats := leaderStats(now)
	stats.BusConnected = false
	assert.False(t, NewClockChecker(stats, clock, 0).Check(context.Background()).Healthy)

	stats.Standalone = true
	assert.True(t, NewClockChecker(stats, clock, 0).Check(context.Background()).Healthy)
}

func TestServeHTTP(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)

	rec := httptest.NewRecorder()
	NewClockChecker(leaderStats(now), clock, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, "LEADER", status.Role)

	rec = httptest.NewRecorder()
	NewClockChecker(leaderStats(now.Add(-time.Minute)), clock, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPrometheusExporter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	stats := leaderStats(now)
	stats.Demotions = 3
	out := NewPrometheusExporter(NewClockChecker(stats, clock, 0)).Export(context.Background())

	assert.Contains(t, out, "tabclock_healthy 1\n")
	assert.Contains(t, out, "tabclock_leader 1\n")
	assert.Contains(t, out, "tabclock_ticks_total 42\n")
	assert.Contains(t, out, "tabclock_demotions_total 3\n")
	assert.Contains(t, out, "# TYPE tabclock_ticks_total counter")
}

func TestRegisterRoutes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	stats := leaderStats(now)
	mux := http.NewServeMux()
	RegisterRoutes(mux, NewClockChecker(stats, clock, 0), stats)

	for _, path := range []string{"/health", "/metrics", "/api/clock/state"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/clock/state", nil))
	var got coordinator.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "tab-1", got.ID)
}
