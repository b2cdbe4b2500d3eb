package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/bus"
	"github.com/mcdev12/tabclock/go/internal/tabclock/coordinator"
	"github.com/mcdev12/tabclock/go/internal/tabclock/display"
	"github.com/mcdev12/tabclock/go/internal/tabclock/gateway"
	"github.com/mcdev12/tabclock/go/internal/tabclock/health"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone/otoplayer"
)

type Services struct {
	// Tabs[0] drives the terminal and overlays; the rest only exist with
	// simulated tabs.
	Tabs    []*coordinator.Coordinator
	Gateway *gateway.Service
	Health  *health.ClockChecker
}

// setupServices wires one coordinator per tab. Terminal output goes to out.
func setupServices(config Config, out io.Writer) (*Services, error) {
	loc, err := config.location()
	if err != nil {
		return nil, err
	}
	formatter := display.Formatter{Location: loc, Use24Hour: config.Use24Hour}

	gw := gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		Formatter:        formatter,
	})

	// one speaker for the process; only the group's leader ever plays it
	players := tone.Multi{gw}
	if config.Sound {
		players = append(players, otoplayer.New(tone.DefaultSampleRate))
	}

	var network *bus.Network
	if config.Bus.Kind == "memory" {
		network = bus.NewNetwork()
	}

	services := &Services{Gateway: gw}
	for i := 0; i < config.Tabs; i++ {
		id := uuid.New().String()

		var renderer display.Renderer = display.Multi{}
		if i == 0 {
			renderers := display.Multi{gw}
			if config.Terminal {
				renderers = append(renderers, display.NewTerminal(out, formatter, config.ShowBorder))
			}
			renderer = renderers
		}

		c, err := coordinator.New(coordinator.Config{
			ID:       id,
			Interval: config.Interval,
			Location: loc,
			Volume:   config.Volume,
			Embedded: config.Embedded,
		}, openBus(config, id, network), renderer, players)
		if err != nil {
			services.closeBuses()
			return nil, fmt.Errorf("failed to create tab %d: %w", i, err)
		}
		services.Tabs = append(services.Tabs, c)
	}

	services.Health = health.NewClockChecker(services.Tabs[0], nil, health.DefaultStalePeriods)
	return services, nil
}

// openBus returns nil, meaning standalone, when no bus can be opened.
func openBus(config Config, id string, network *bus.Network) bus.Bus {
	b, err := bus.Open(config.Bus.BusConfig(id, network))
	if err != nil {
		log.Warn().
			Err(err).
			Str("tab_id", id[:8]).
			Str("bus", config.Bus.Endpoint()).
			Msg("broadcast bus unavailable, running standalone")
		return nil
	}
	log.Info().
		Str("tab_id", id[:8]).
		Str("bus", config.Bus.Endpoint()).
		Msg("joined clock group")
	return b
}

// closeBuses releases the buses of tabs whose loops never started.
func (s *Services) closeBuses() {
	for _, c := range s.Tabs {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("tab_id", c.ShortID()).Msg("failed to close bus")
		}
	}
}

// Run starts the gateway and every tab, and returns once all tabs have
// resigned after ctx is cancelled.
func (s *Services) Run(ctx context.Context) {
	go s.Gateway.Start(ctx)

	var wg sync.WaitGroup
	for _, c := range s.Tabs {
		wg.Add(1)
		go func(c *coordinator.Coordinator) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Error().Err(err).Str("tab_id", c.ShortID()).Msg("clock coordinator failed")
			}
		}(c)
	}
	wg.Wait()
}
