package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the NATS bus
type NATSConfig struct {
	URL           string
	SubjectPrefix string // subject is <prefix>.<group>
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS bus configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tabclock.sync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Timeout:       2 * time.Second,
	}
}

// NATSBus broadcasts over a plain (non-JetStream) NATS subject. Core NATS
// is at-most-once and unordered across publishers, which is all the sync
// protocol asks for.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	sender  string

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSBus connects to NATS and returns a bus for the given group.
func NewNATSBus(group, sender string, config NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("tabclock-" + sender),
		nats.NoEcho(),
		nats.Timeout(config.Timeout),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w: %w", ErrUnavailable, err)
	}

	subject := fmt.Sprintf("%s.%s", config.SubjectPrefix, group)
	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject", subject).
		Msg("connected to NATS bus")

	return &NATSBus{nc: nc, subject: subject, sender: sender}, nil
}

func (b *NATSBus) Publish(msg Message) error {
	if msg.Sender == "" {
		msg.Sender = b.sender
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return ErrSubscribed
	}

	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		msg, err := Decode(m.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("discarding malformed sync message")
			return
		}
		if msg.Sender == b.sender {
			return
		}
		h(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

func (b *NATSBus) Connected() bool {
	return b.nc.IsConnected()
}

// Close flushes pending publishes, so a final LEADER_RESIGNED reaches the
// server, then closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("failed to unsubscribe from NATS bus")
		}
		b.sub = nil
	}
	b.mu.Unlock()

	if b.nc.IsClosed() {
		return nil
	}
	var flushErr error
	if b.nc.IsConnected() {
		if err := b.nc.FlushTimeout(time.Second); err != nil {
			flushErr = fmt.Errorf("flush NATS bus: %w", err)
		}
	}
	b.nc.Close()
	return flushErr
}
