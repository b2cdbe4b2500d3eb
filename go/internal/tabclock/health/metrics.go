package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/coordinator"
)

// PrometheusExporter renders a Status in the Prometheus text format.
type PrometheusExporter struct {
	checker Checker
}

func NewPrometheusExporter(checker Checker) *PrometheusExporter {
	return &PrometheusExporter{checker: checker}
}

func gauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (e *PrometheusExporter) Export(ctx context.Context) string {
	status := e.checker.Check(ctx)

	var lastTick int64
	if !status.LastTick.IsZero() {
		lastTick = status.LastTick.Unix()
	}

	return fmt.Sprintf(`# HELP tabclock_healthy Whether the clock is healthy
# TYPE tabclock_healthy gauge
tabclock_healthy %d

# HELP tabclock_leader Whether this tab is the leader
# TYPE tabclock_leader gauge
tabclock_leader %d

# HELP tabclock_bus_connected Whether the broadcast bus is connected
# TYPE tabclock_bus_connected gauge
tabclock_bus_connected %d

# HELP tabclock_ticks_total Total number of leader ticks
# TYPE tabclock_ticks_total counter
tabclock_ticks_total %d

# HELP tabclock_messages_received_total Total number of sync messages handled
# TYPE tabclock_messages_received_total counter
tabclock_messages_received_total %d

# HELP tabclock_messages_dropped_total Total number of sync messages dropped on a full inbox
# TYPE tabclock_messages_dropped_total counter
tabclock_messages_dropped_total %d

# HELP tabclock_promotions_total Total number of promotions to leader
# TYPE tabclock_promotions_total counter
tabclock_promotions_total %d

# HELP tabclock_demotions_total Total number of demotions to follower
# TYPE tabclock_demotions_total counter
tabclock_demotions_total %d

# HELP tabclock_last_tick_timestamp Unix timestamp of the last leader tick
# TYPE tabclock_last_tick_timestamp gauge
tabclock_last_tick_timestamp %d

# HELP tabclock_last_sync_timestamp_ms Latest clock timestamp seen, in epoch milliseconds
# TYPE tabclock_last_sync_timestamp_ms gauge
tabclock_last_sync_timestamp_ms %d
`,
		gauge(status.Healthy),
		gauge(status.Role == coordinator.Leader.String()),
		gauge(status.BusConnected),
		status.Ticks,
		status.MessagesReceived,
		status.MessagesDropped,
		status.Promotions,
		status.Demotions,
		lastTick,
		status.LastTimestampMs,
	)
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := fmt.Fprint(w, e.Export(ctx)); err != nil {
		log.Debug().Err(err).Msg("failed to write metrics")
	}
}
