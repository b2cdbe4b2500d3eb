// Package gateway mirrors a tab's clock face and alarm tones to browser
// overlays over WebSocket.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
	"github.com/mcdev12/tabclock/go/internal/tabclock/display"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

// Service is both a display.Renderer and a tone.Player: every render and
// every beep becomes a frame for connected overlays.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	formatter         display.Formatter
}

var (
	_ display.Renderer = (*Service)(nil)
	_ tone.Player      = (*Service)(nil)
)

// Config holds configuration for the overlay gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	Formatter        display.Formatter
}

// DefaultConfig returns default configuration for the overlay gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new overlay gateway
func NewService(config Config) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		formatter:         config.Formatter,
	}
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting overlay gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("overlay gateway stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}

func (s *Service) Render(timestampMs int64, h alarm.Highlight) {
	s.connectionManager.Broadcast(NewRenderFrame(s.formatter, timestampMs, h))
}

func (s *Service) Play(t tone.Tone) {
	s.connectionManager.Broadcast(NewToneFrame(t))
}

// Stats returns statistics about connected overlays
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
