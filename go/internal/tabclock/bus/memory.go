package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Network is an in-process broadcast domain. Every MemoryBus joined to it
// sees every other member's messages.
type Network struct {
	mu      sync.RWMutex
	members map[*MemoryBus]struct{}

	// Drop, when set, decides per delivery whether a message is lost.
	Drop func(from, to string, msg Message) bool
}

func NewNetwork() *Network {
	return &Network{members: make(map[*MemoryBus]struct{})}
}

// Join adds a member identified by sender.
func (n *Network) Join(sender string) *MemoryBus {
	b := &MemoryBus{network: n, sender: sender}
	n.mu.Lock()
	n.members[b] = struct{}{}
	n.mu.Unlock()
	return b
}

func (n *Network) leave(b *MemoryBus) {
	n.mu.Lock()
	delete(n.members, b)
	n.mu.Unlock()
}

// Size returns the number of joined members.
func (n *Network) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.members)
}

func (n *Network) deliver(from *MemoryBus, msg Message) {
	n.mu.RLock()
	targets := make([]*MemoryBus, 0, len(n.members))
	for m := range n.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	drop := n.Drop
	n.mu.RUnlock()

	for _, t := range targets {
		if drop != nil && drop(from.sender, t.sender, msg) {
			log.Debug().
				Str("from", from.sender).
				Str("to", t.sender).
				Str("kind", string(msg.Kind)).
				Msg("memory bus dropped message")
			continue
		}
		t.receive(msg)
	}
}

// MemoryBus is one member's handle on a Network.
type MemoryBus struct {
	network *Network
	sender  string

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

func (b *MemoryBus) Publish(msg Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Sender == "" {
		msg.Sender = b.sender
	}
	b.network.deliver(b, msg)
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.handler != nil {
		return ErrSubscribed
	}
	b.handler = h
	return nil
}

func (b *MemoryBus) receive(msg Message) {
	b.mu.RLock()
	h := b.handler
	closed := b.closed
	b.mu.RUnlock()
	if closed || h == nil {
		return
	}
	h(msg)
}

func (b *MemoryBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handler = nil
	b.mu.Unlock()

	b.network.leave(b)
	return nil
}
