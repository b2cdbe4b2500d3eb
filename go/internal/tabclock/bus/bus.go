// Package bus carries sync messages between the tabs of one group.
//
// Every implementation is best effort: messages may be lost, delayed or
// reordered and nothing is acknowledged. A tab never receives its own
// messages back.
package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the hosting environment has no usable bus. The
	// coordinator runs standalone when it sees it.
	ErrUnavailable = errors.New("broadcast bus unavailable")
	ErrClosed      = errors.New("bus closed")
	ErrSubscribed  = errors.New("bus already has a handler")
)

// Handler receives inbound messages. It is called from the bus's own
// goroutine and must not block.
type Handler func(Message)

// Bus is a multi-writer, multi-reader broadcast channel.
type Bus interface {
	Publish(msg Message) error
	Subscribe(h Handler) error
	Connected() bool
	Close() error
}

// Config selects and configures a bus implementation.
type Config struct {
	Kind  string // memory, nats, multicast or none
	Group string // channel name shared by all tabs of a group
	// Sender is the id of the tab that owns this bus handle.
	Sender string

	NATS      NATSConfig
	Multicast MulticastConfig

	// Network is the shared in-process network for the memory bus.
	Network *Network
}

// Open connects to the configured bus.
func Open(cfg Config) (Bus, error) {
	switch cfg.Kind {
	case "memory":
		if cfg.Network == nil {
			return nil, fmt.Errorf("memory bus needs a network: %w", ErrUnavailable)
		}
		return cfg.Network.Join(cfg.Sender), nil
	case "nats":
		return NewNATSBus(cfg.Group, cfg.Sender, cfg.NATS)
	case "multicast":
		return NewMulticastBus(cfg.Group, cfg.Sender, cfg.Multicast)
	case "", "none":
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unknown bus kind %q: %w", cfg.Kind, ErrUnavailable)
	}
}
