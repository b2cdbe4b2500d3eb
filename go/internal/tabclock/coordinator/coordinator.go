package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
	"github.com/mcdev12/tabclock/go/internal/tabclock/bus"
	"github.com/mcdev12/tabclock/go/internal/tabclock/display"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

const (
	DefaultInterval = 100 * time.Millisecond
	// every second boundary must be observed at least once
	MaxInterval = time.Second

	inboxBufferSize = 64
)

var (
	ErrEmbedded        = errors.New("clock runs in the top-level frame only")
	ErrInvalidInterval = errors.New("tick interval must be in (0, 1s]")
)

// Config holds configuration for a coordinator.
type Config struct {
	// ID identifies the tab on the bus. Generated when empty.
	ID       string
	Interval time.Duration
	// Location is used to split timestamps into minute and second for
	// the alarm schedule. Defaults to time.Local.
	Location *time.Location
	// Volume for alarm tones, in [0, 1]. Zero is silent.
	Volume float64
	// Embedded is set when the host is a nested frame; such hosts must
	// not run a clock.
	Embedded bool
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Stats is a point-in-time snapshot of a coordinator.
type Stats struct {
	ID               string        `json:"id"`
	Role             string        `json:"role"`
	Standalone       bool          `json:"standalone"`
	BusConnected     bool          `json:"bus_connected"`
	Interval         time.Duration `json:"interval"`
	LastTimestampMs  int64         `json:"last_timestamp_ms"`
	LastTick         time.Time     `json:"last_tick"`
	Ticks            uint64        `json:"ticks"`
	MessagesReceived uint64        `json:"messages_received"`
	MessagesDropped  uint64        `json:"messages_dropped"`
	Promotions       uint64        `json:"promotions"`
	Demotions        uint64        `json:"demotions"`
}

// Coordinator keeps one tab's clock in sync with its group. All state
// changes happen on the goroutine running Run; the bus handler only queues.
type Coordinator struct {
	id       string
	shortID  string
	interval time.Duration
	location *time.Location
	low      tone.Tone
	high     tone.Tone
	clock    clockwork.Clock

	bus      bus.Bus
	renderer display.Renderer
	tones    tone.Player

	inbox    chan bus.Message
	dispatch map[Role]func(bus.Message)
	dropped  atomic.Uint64

	mu            sync.RWMutex
	role          Role
	lastTimestamp int64
	latches       alarm.State
	highlight     alarm.Highlight
	ticker        clockwork.Ticker
	lastTick      time.Time
	ticks         uint64
	received      uint64
	promotions    uint64
	demotions     uint64

	shutdownOnce sync.Once
}

// New creates a coordinator that starts out as leader. A nil bus runs the
// tab standalone: it ticks and plays alarms but never syncs with anyone.
func New(cfg Config, b bus.Bus, renderer display.Renderer, tones tone.Player) (*Coordinator, error) {
	if cfg.Embedded {
		return nil, ErrEmbedded
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < 0 || cfg.Interval > MaxInterval {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if renderer == nil {
		renderer = display.Multi{}
	}
	if tones == nil {
		tones = tone.Nop{}
	}

	shortID := cfg.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	c := &Coordinator{
		id:            cfg.ID,
		shortID:       shortID,
		interval:      cfg.Interval,
		location:      cfg.Location,
		low:           tone.Low.WithVolume(cfg.Volume),
		high:          tone.High.WithVolume(cfg.Volume),
		clock:         cfg.Clock,
		bus:           b,
		renderer:      renderer,
		tones:         tones,
		inbox:         make(chan bus.Message, inboxBufferSize),
		role:          Leader,
		lastTimestamp: cfg.Clock.Now().UnixMilli(),
	}
	c.dispatch = map[Role]func(bus.Message){
		Leader:   c.onLeaderMessage,
		Follower: c.onFollowerMessage,
	}

	if b != nil {
		if err := b.Subscribe(c.enqueue); err != nil {
			return nil, fmt.Errorf("subscribe to bus: %w", err)
		}
	}

	return c, nil
}

// ID returns the tab id used on the bus.
func (c *Coordinator) ID() string { return c.id }

// ShortID is the id prefix used in logs.
func (c *Coordinator) ShortID() string { return c.shortID }

// Role returns the current role.
func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Interval returns the leader tick period.
func (c *Coordinator) Interval() time.Duration { return c.interval }

// Stats returns a snapshot for health reporting.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		ID:               c.id,
		Role:             c.role.String(),
		Standalone:       c.bus == nil,
		Interval:         c.interval,
		LastTimestampMs:  c.lastTimestamp,
		LastTick:         c.lastTick,
		Ticks:            c.ticks,
		MessagesReceived: c.received,
		MessagesDropped:  c.dropped.Load(),
		Promotions:       c.promotions,
		Demotions:        c.demotions,
	}
	if c.bus != nil {
		s.BusConnected = c.bus.Connected()
	}
	return s
}

// Run processes ticks and inbound messages until ctx is cancelled, then
// resigns (if leader) and closes the bus.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.role == Leader {
		c.startTickingLocked()
	}
	c.mu.Unlock()

	log.Info().
		Str("tab_id", c.shortID).
		Str("role", c.Role().String()).
		Bool("standalone", c.bus == nil).
		Dur("interval", c.interval).
		Msg("clock coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
		case <-c.tickChan():
			c.tick()
		}
	}
}

// enqueue is the bus handler. It never blocks the bus.
func (c *Coordinator) enqueue(msg bus.Message) {
	select {
	case c.inbox <- msg:
	default:
		c.dropped.Add(1)
		log.Warn().
			Str("tab_id", c.shortID).
			Str("kind", string(msg.Kind)).
			Msg("inbox full, dropping sync message")
	}
}

func (c *Coordinator) tickChan() <-chan time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ticker == nil {
		return nil
	}
	return c.ticker.Chan()
}

// ticking reports whether a tick handle is live.
func (c *Coordinator) ticking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticker != nil
}

func (c *Coordinator) startTickingLocked() {
	if c.ticker != nil {
		return
	}
	c.ticker = c.clock.NewTicker(c.interval)
}

// stopTickingLocked cancels the tick handle in the caller's invocation so a
// tab never has two tick loops alive.
func (c *Coordinator) stopTickingLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}

// handle applies one inbound message through the role dispatch table.
func (c *Coordinator) handle(msg bus.Message) {
	if msg.Sender != "" && msg.Sender == c.id {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	c.dispatch[c.role](msg)
}

func (c *Coordinator) onLeaderMessage(msg bus.Message) {
	switch msg.Kind {
	case bus.KindTime:
		if msg.TimestampMs > c.lastTimestamp {
			c.demoteLocked(msg)
		}
		c.observeLocked(msg.TimestampMs)
		c.renderer.Render(msg.TimestampMs, c.highlight)
	case bus.KindLeaderResigned:
		log.Debug().
			Str("tab_id", c.shortID).
			Str("from", msg.Sender).
			Msg("ignoring resignation while leader")
	}
}

func (c *Coordinator) onFollowerMessage(msg bus.Message) {
	switch msg.Kind {
	case bus.KindTime:
		c.observeLocked(msg.TimestampMs)
		c.renderer.Render(msg.TimestampMs, alarm.HighlightNone)
	case bus.KindLeaderResigned:
		c.promoteLocked(msg)
	}
}

// observeLocked records a seen timestamp. Older timestamps are still
// rendered by the caller but never move lastTimestamp backwards.
func (c *Coordinator) observeLocked(ts int64) {
	if ts > c.lastTimestamp {
		c.lastTimestamp = ts
	}
}

func (c *Coordinator) demoteLocked(msg bus.Message) {
	c.stopTickingLocked()
	c.role = Follower
	c.latches = alarm.State{}
	c.highlight = alarm.HighlightNone
	c.demotions++

	log.Info().
		Str("tab_id", c.shortID).
		Str("leader", msg.Sender).
		Int64("peer_timestamp_ms", msg.TimestampMs).
		Int64("last_timestamp_ms", c.lastTimestamp).
		Msg("newer leader seen, following")
}

func (c *Coordinator) promoteLocked(msg bus.Message) {
	c.role = Leader
	c.latches = alarm.State{}
	c.highlight = alarm.HighlightNone
	c.startTickingLocked()
	c.promotions++

	log.Info().
		Str("tab_id", c.shortID).
		Str("resigned", msg.Sender).
		Msg("leader resigned, taking over")
}

// tick is one leader period: read the time source, then publish it.
func (c *Coordinator) tick() {
	c.publishTime(c.clock.Now())
}

// publishTime broadcasts, renders and evaluates one timestamp. Followers
// have no periodic work, so it is a no-op for them.
func (c *Coordinator) publishTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != Leader {
		return
	}

	ts := now.UnixMilli()
	c.lastTick = now
	c.ticks++
	c.observeLocked(ts)

	if c.bus != nil {
		if err := c.bus.Publish(bus.Time(c.id, ts)); err != nil {
			log.Warn().Err(err).Str("tab_id", c.shortID).Msg("failed to broadcast time")
		}
	}

	local := now.In(c.location)
	res := alarm.Evaluate(local.Minute(), local.Second(), c.latches)
	c.latches = res.State
	c.highlight = res.Highlight

	c.renderer.Render(ts, res.Highlight)
	c.applyLocked(res.Events, local)
}

func (c *Coordinator) applyLocked(events []alarm.Event, at time.Time) {
	for _, ev := range events {
		switch ev {
		case alarm.EventLowBeep:
			c.tones.Play(c.low)
		case alarm.EventHighBeep:
			c.tones.Play(c.high)
		}
		log.Debug().
			Str("tab_id", c.shortID).
			Str("event", string(ev)).
			Str("at", at.Format(time.TimeOnly)).
			Msg("alarm event")
	}
}

// Close releases the bus of a coordinator whose loop never ran. Nothing
// was ever broadcast, so it leaves without resigning.
func (c *Coordinator) Close() error {
	var err error
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.stopTickingLocked()
		c.mu.Unlock()
		if c.bus != nil {
			err = c.bus.Close()
		}
	})
	return err
}

func (c *Coordinator) shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		wasLeader := c.role == Leader
		c.stopTickingLocked()
		c.mu.Unlock()

		if c.bus != nil {
			if wasLeader {
				if err := c.bus.Publish(bus.LeaderResigned(c.id)); err != nil {
					log.Warn().Err(err).Str("tab_id", c.shortID).Msg("failed to announce resignation")
				}
			}
			if err := c.bus.Close(); err != nil {
				log.Warn().Err(err).Str("tab_id", c.shortID).Msg("failed to close bus")
			}
		}

		log.Info().
			Str("tab_id", c.shortID).
			Bool("resigned", wasLeader).
			Msg("clock coordinator stopped")
	})
}
