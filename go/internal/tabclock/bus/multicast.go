package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

const datagramSize = 512

// MulticastConfig holds settings for the UDP multicast bus.
type MulticastConfig struct {
	Address   string // group address, e.g. 239.255.42.99:9458
	Interface string // optional interface name
	TTL       int
	Loopback  bool // deliver to other tabs on this host
}

func DefaultMulticastConfig() MulticastConfig {
	return MulticastConfig{
		Address:  "239.255.42.99:9458",
		TTL:      1,
		Loopback: true,
	}
}

// datagram tags each message with its group so several groups can share
// one multicast address.
type datagram struct {
	Group string `json:"group"`
	Message
}

// MulticastBus broadcasts over IPv4 UDP multicast.
type MulticastBus struct {
	group  string
	sender string
	dst    *net.UDPAddr
	conn   *ipv4.PacketConn

	mu         sync.Mutex
	subscribed bool
	closed     bool
	wg         sync.WaitGroup
}

// NewMulticastBus joins the multicast group.
func NewMulticastBus(group, sender string, config MulticastConfig) (*MulticastBus, error) {
	dst, err := net.ResolveUDPAddr("udp4", config.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast address %q: %w: %w", config.Address, ErrUnavailable, err)
	}

	var ifi *net.Interface
	if config.Interface != "" {
		ifi, err = net.InterfaceByName(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("find interface %q: %w: %w", config.Interface, ErrUnavailable, err)
		}
	}

	// ListenMulticastUDP sets SO_REUSEADDR so several tabs on one host can bind the port
	udp, err := net.ListenMulticastUDP("udp4", ifi, dst)
	if err != nil {
		return nil, fmt.Errorf("join multicast group %s: %w: %w", dst, ErrUnavailable, err)
	}

	conn := ipv4.NewPacketConn(udp)
	if err := conn.SetMulticastTTL(config.TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast TTL: %w", err)
	}
	if err := conn.SetMulticastLoopback(config.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := conn.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}

	log.Info().
		Str("address", dst.String()).
		Str("group", group).
		Int("ttl", config.TTL).
		Msg("joined multicast bus")

	return &MulticastBus{
		group:  group,
		sender: sender,
		dst:    dst,
		conn:   conn,
	}, nil
}

func (b *MulticastBus) Publish(msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if msg.Sender == "" {
		msg.Sender = b.sender
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(datagram{Group: b.group, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal datagram: %w", err)
	}
	if _, err := b.conn.WriteTo(data, nil, b.dst); err != nil {
		return fmt.Errorf("write to %s: %w", b.dst, err)
	}
	return nil
}

func (b *MulticastBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.subscribed {
		return ErrSubscribed
	}
	b.subscribed = true

	b.wg.Add(1)
	go b.readLoop(h)
	return nil
}

func (b *MulticastBus) readLoop(h Handler) {
	defer b.wg.Done()

	buf := make([]byte, datagramSize)
	for {
		n, _, src, err := b.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !b.Connected() {
				return
			}
			log.Warn().Err(err).Msg("multicast read failed")
			continue
		}

		msg, ok := b.decode(buf[:n])
		if !ok {
			log.Debug().Str("src", src.String()).Msg("discarding foreign or malformed datagram")
			continue
		}
		h(msg)
	}
}

// decode returns the message if it belongs to this group and did not come
// from this tab. Loopback hands our own datagrams back to us.
func (b *MulticastBus) decode(data []byte) (Message, bool) {
	var d datagram
	if err := json.Unmarshal(data, &d); err != nil {
		return Message{}, false
	}
	if d.Group != b.group || d.Sender == b.sender {
		return Message{}, false
	}
	if err := d.Message.Validate(); err != nil {
		return Message{}, false
	}
	return d.Message, true
}

func (b *MulticastBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *MulticastBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.conn.Close()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("close multicast bus: %w", err)
	}
	return nil
}
