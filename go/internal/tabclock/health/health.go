// Package health reports whether a tab's clock is alive and in sync.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/coordinator"
)

// DefaultStalePeriods is how many tick periods a leader may go without
// ticking before it is reported unhealthy.
const DefaultStalePeriods = 5

type Status struct {
	Healthy          bool      `json:"healthy"`
	Role             string    `json:"role"`
	Standalone       bool      `json:"standalone"`
	BusConnected     bool      `json:"bus_connected"`
	LastTick         time.Time `json:"last_tick"`
	LastTimestampMs  int64     `json:"last_timestamp_ms"`
	Ticks            uint64    `json:"ticks"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesDropped  uint64    `json:"messages_dropped"`
	Promotions       uint64    `json:"promotions"`
	Demotions        uint64    `json:"demotions"`
	Errors           []string  `json:"errors"`
}

type Checker interface {
	Check(ctx context.Context) Status
}

// StatsSource is satisfied by *coordinator.Coordinator.
type StatsSource interface {
	Stats() coordinator.Stats
}

type ClockChecker struct {
	source       StatsSource
	clock        clockwork.Clock
	stalePeriods int
	startedAt    time.Time
}

func NewClockChecker(source StatsSource, clock clockwork.Clock, stalePeriods int) *ClockChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stalePeriods <= 0 {
		stalePeriods = DefaultStalePeriods
	}
	return &ClockChecker{
		source:       source,
		clock:        clock,
		stalePeriods: stalePeriods,
		startedAt:    clock.Now(),
	}
}

func (h *ClockChecker) Check(ctx context.Context) Status {
	stats := h.source.Stats()
	status := Status{
		Healthy:          true,
		Role:             stats.Role,
		Standalone:       stats.Standalone,
		BusConnected:     stats.BusConnected,
		LastTick:         stats.LastTick,
		LastTimestampMs:  stats.LastTimestampMs,
		Ticks:            stats.Ticks,
		MessagesReceived: stats.MessagesReceived,
		MessagesDropped:  stats.MessagesDropped,
		Promotions:       stats.Promotions,
		Demotions:        stats.Demotions,
		Errors:           []string{},
	}

	if !stats.Standalone && !stats.BusConnected {
		status.Healthy = false
		status.Errors = append(status.Errors, "bus disconnected")
	}

	// followers have no periodic work, only leaders can go stale
	if stats.Role == coordinator.Leader.String() {
		last := stats.LastTick
		if last.IsZero() {
			last = h.startedAt
		}
		limit := time.Duration(h.stalePeriods) * stats.Interval
		if since := h.clock.Since(last); since > limit {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("leader has not ticked for %s", since))
		}
	}

	return status
}

// ServeHTTP writes the status as JSON, with 503 when unhealthy.
func (h *ClockChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}

// StateHandler serves the raw coordinator snapshot.
type StateHandler struct {
	source StatsSource
}

func NewStateHandler(source StatsSource) *StateHandler {
	return &StateHandler{source: source}
}

func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode clock state")
	}
}

// RegisterRoutes mounts /health, /metrics and /api/clock/state.
func RegisterRoutes(mux *http.ServeMux, checker *ClockChecker, source StatsSource) {
	mux.Handle("/health", checker)
	mux.Handle("/metrics", NewPrometheusExporter(checker))
	mux.Handle("/api/clock/state", NewStateHandler(source))
}
