package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
	"github.com/mcdev12/tabclock/go/internal/tabclock/bus"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

// 10:29:30 UTC, first low beep of the pre-window
var start = time.Date(2024, 3, 9, 10, 29, 30, 0, time.UTC)

type frame struct {
	ts int64
	h  alarm.Highlight
}

type renderRecorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *renderRecorder) Render(ts int64, h alarm.Highlight) {
	r.mu.Lock()
	r.frames = append(r.frames, frame{ts, h})
	r.mu.Unlock()
}

func (r *renderRecorder) all() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame(nil), r.frames...)
}

type toneRecorder struct {
	mu    sync.Mutex
	tones []tone.Tone
}

func (p *toneRecorder) Play(t tone.Tone) {
	p.mu.Lock()
	p.tones = append(p.tones, t)
	p.mu.Unlock()
}

func (p *toneRecorder) all() []tone.Tone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tone.Tone(nil), p.tones...)
}

type msgRecorder struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (r *msgRecorder) handle(m bus.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *msgRecorder) all() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Message(nil), r.msgs...)
}

type harness struct {
	c      *Coordinator
	clock  *clockwork.FakeClock
	frames *renderRecorder
	tones  *toneRecorder
}

func newHarness(t *testing.T, id string, b bus.Bus, clock *clockwork.FakeClock) *harness {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewFakeClockAt(start)
	}
	h := &harness{clock: clock, frames: &renderRecorder{}, tones: &toneRecorder{}}
	c, err := New(Config{ID: id, Location: time.UTC, Clock: clock, Volume: tone.DefaultVolume}, b, h.frames, h.tones)
	require.NoError(t, err)
	h.c = c
	return h
}

// drain applies every queued inbound message, as Run would.
func drain(c *Coordinator) {
	for {
		select {
		case msg := <-c.inbox:
			c.handle(msg)
		default:
			return
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Embedded: true}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedded)

	for _, d := range []time.Duration{-time.Millisecond, 1001 * time.Millisecond} {
		_, err := New(Config{Interval: d}, nil, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidInterval, "interval %s", d)
	}

	c, err := New(Config{Interval: time.Second}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Interval())

	c, err = New(Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, c.Interval())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, Leader, c.Role())
}

func TestNew_SubscribeFailure(t *testing.T) {
	b := bus.NewNetwork().Join("a")
	require.NoError(t, b.Subscribe(func(bus.Message) {}))

	_, err := New(Config{ID: "a"}, b, nil, nil)
	assert.ErrorIs(t, err, bus.ErrSubscribed)
}

func TestNew_LastTimestampFromClock(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	assert.Equal(t, start.UnixMilli(), h.c.Stats().LastTimestampMs)
}

func TestTick_LeaderBroadcastsRendersAndBeeps(t *testing.T) {
	net := bus.NewNetwork()
	observer := net.Join("observer")
	var seen msgRecorder
	require.NoError(t, observer.Subscribe(seen.handle))

	h := newHarness(t, "a", net.Join("a"), nil)
	h.c.tick()

	assert.Equal(t, []bus.Message{bus.Time("a", start.UnixMilli())}, seen.all())
	assert.Equal(t, []frame{{start.UnixMilli(), alarm.HighlightAlternating}}, h.frames.all())
	assert.Equal(t, []tone.Tone{tone.Low}, h.tones.all())

	// several ticks inside one second beep once
	h.clock.Advance(100 * time.Millisecond)
	h.c.tick()
	h.clock.Advance(100 * time.Millisecond)
	h.c.tick()
	assert.Len(t, h.tones.all(), 1)
	assert.Len(t, seen.all(), 3)

	// next even second beeps again after the odd second rearms
	h.clock.Advance(time.Second)
	h.c.tick()
	h.clock.Advance(time.Second)
	h.c.tick()
	assert.Equal(t, []tone.Tone{tone.Low, tone.Low}, h.tones.all())

	s := h.c.Stats()
	assert.EqualValues(t, 5, s.Ticks)
	assert.Equal(t, h.clock.Now(), s.LastTick)
	assert.Equal(t, h.clock.Now().UnixMilli(), s.LastTimestampMs)
}

func TestTick_HighBeepOnTheHalfHour(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 10, 29, 59, 900_000_000, time.UTC))
	h := newHarness(t, "a", nil, clock)

	h.c.tick()
	clock.Advance(100 * time.Millisecond)
	h.c.tick()
	clock.Advance(100 * time.Millisecond)
	h.c.tick()

	assert.Equal(t, []tone.Tone{tone.High}, h.tones.all())
	frames := h.frames.all()
	require.Len(t, frames, 3)
	assert.Equal(t, alarm.HighlightAlternating, frames[0].h)
	assert.Equal(t, alarm.HighlightSolidRed, frames[1].h)
	assert.Equal(t, alarm.HighlightSolidRed, frames[2].h)
}

func TestTick_Volume(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	var tones toneRecorder
	c, err := New(Config{ID: "a", Location: time.UTC, Clock: clock, Volume: 0.2}, nil, nil, &tones)
	require.NoError(t, err)

	c.tick()
	require.Len(t, tones.all(), 1)
	assert.InDelta(t, 0.2, tones.all()[0].Volume, 1e-9)
}

func TestTick_ZeroVolumeIsSilent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	var tones toneRecorder
	c, err := New(Config{ID: "a", Location: time.UTC, Clock: clock, Volume: 0}, nil, nil, &tones)
	require.NoError(t, err)

	c.tick()
	require.Len(t, tones.all(), 1)
	assert.Zero(t, tones.all()[0].Volume)
}

func TestTick_FollowerDoesNothing(t *testing.T) {
	net := bus.NewNetwork()
	observer := net.Join("observer")
	var seen msgRecorder
	require.NoError(t, observer.Subscribe(seen.handle))

	h := newHarness(t, "a", net.Join("a"), nil)
	h.c.handle(bus.Time("peer", start.UnixMilli()+1))
	require.Equal(t, Follower, h.c.Role())
	before := len(h.frames.all())

	h.c.tick()

	assert.Empty(t, seen.all())
	assert.Len(t, h.frames.all(), before)
	assert.Empty(t, h.tones.all(), "followers never evaluate alarms")
}

func TestHandle_LeaderDemotesOnNewerTimestamp(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	h.c.mu.Lock()
	h.c.startTickingLocked()
	h.c.mu.Unlock()
	require.True(t, h.c.ticking())

	peer := start.UnixMilli() + 1
	h.c.handle(bus.Time("b", peer))

	assert.Equal(t, Follower, h.c.Role())
	assert.False(t, h.c.ticking(), "tick handle cancelled on demotion")
	assert.Equal(t, []frame{{peer, alarm.HighlightNone}}, h.frames.all())
	s := h.c.Stats()
	assert.Equal(t, peer, s.LastTimestampMs)
	assert.EqualValues(t, 1, s.Demotions)
}

func TestHandle_LeaderKeepsRoleOnOlderOrEqualTimestamp(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	h.c.tick()

	h.c.handle(bus.Time("b", start.UnixMilli()))
	h.c.handle(bus.Time("b", start.UnixMilli()-500))

	assert.Equal(t, Leader, h.c.Role())
	assert.Equal(t, start.UnixMilli(), h.c.Stats().LastTimestampMs)

	frames := h.frames.all()
	require.Len(t, frames, 3)
	// peers' time is still rendered, with the leader's own highlight
	assert.Equal(t, frame{start.UnixMilli() - 500, alarm.HighlightAlternating}, frames[2])
}

func TestHandle_LeaderIgnoresResignation(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	h.c.handle(bus.LeaderResigned("b"))

	assert.Equal(t, Leader, h.c.Role())
	assert.EqualValues(t, 0, h.c.Stats().Promotions)
}

func TestHandle_IgnoresOwnMessages(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	h.c.handle(bus.Time("a", start.UnixMilli()+60_000))

	assert.Equal(t, Leader, h.c.Role())
	assert.Empty(t, h.frames.all())
	assert.EqualValues(t, 0, h.c.Stats().MessagesReceived)
}

func TestHandle_FollowerIsIdempotent(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	msg := bus.Time("b", start.UnixMilli()+1000)

	h.c.handle(msg)
	h.c.handle(msg)

	assert.Equal(t, Follower, h.c.Role())
	assert.Equal(t, []frame{
		{msg.TimestampMs, alarm.HighlightNone},
		{msg.TimestampMs, alarm.HighlightNone},
	}, h.frames.all())
	assert.EqualValues(t, 1, h.c.Stats().Demotions)
}

func TestHandle_FollowerRendersStaleButKeepsLast(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	newer := start.UnixMilli() + 2000
	h.c.handle(bus.Time("b", newer))
	h.c.handle(bus.Time("b", newer-1500))

	assert.Equal(t, newer, h.c.Stats().LastTimestampMs)
	frames := h.frames.all()
	require.Len(t, frames, 2)
	assert.Equal(t, newer-1500, frames[1].ts)
}

func TestHandle_FollowerPromotesOnResignation(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	h.c.handle(bus.Time("b", start.UnixMilli()+1))
	require.Equal(t, Follower, h.c.Role())

	h.c.handle(bus.LeaderResigned("b"))

	assert.Equal(t, Leader, h.c.Role())
	assert.True(t, h.c.ticking())
	assert.EqualValues(t, 1, h.c.Stats().Promotions)

	// fresh latches: the first tick in the window beeps
	h.c.tick()
	assert.Equal(t, []tone.Tone{tone.Low}, h.tones.all())
}

func TestTwoLeaders_OneConcedes(t *testing.T) {
	net := bus.NewNetwork()
	clock := clockwork.NewFakeClockAt(start)
	a := newHarness(t, "a", net.Join("a"), clock)
	b := newHarness(t, "b", net.Join("b"), clock)

	a.c.tick()
	clock.Advance(50 * time.Millisecond)
	b.c.tick()

	// a sees b's later timestamp and concedes before its next tick
	drain(a.c)
	drain(b.c)
	assert.Equal(t, Follower, a.c.Role())
	assert.Equal(t, Leader, b.c.Role())

	clock.Advance(50 * time.Millisecond)
	a.c.tick()
	b.c.tick()
	drain(a.c)
	drain(b.c)

	assert.Equal(t, Follower, a.c.Role())
	assert.Equal(t, Leader, b.c.Role())
	assert.Equal(t, clock.Now().UnixMilli(), a.c.Stats().LastTimestampMs)
	assert.Len(t, a.tones.all(), 1, "only the first tick while a led")
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	for i := 0; i < inboxBufferSize+3; i++ {
		h.c.enqueue(bus.Time("b", int64(i)))
	}
	assert.EqualValues(t, 3, h.c.Stats().MessagesDropped)
}

func TestStats_Standalone(t *testing.T) {
	h := newHarness(t, "a", nil, nil)
	s := h.c.Stats()
	assert.True(t, s.Standalone)
	assert.False(t, s.BusConnected)
	assert.Equal(t, "LEADER", s.Role)

	net := bus.NewNetwork()
	h = newHarness(t, "b", net.Join("b"), nil)
	s = h.c.Stats()
	assert.False(t, s.Standalone)
	assert.True(t, s.BusConnected)
}

func TestRun_FailoverAndResign(t *testing.T) {
	net := bus.NewNetwork()
	observer := net.Join("observer")
	var seen msgRecorder
	require.NoError(t, observer.Subscribe(seen.handle))

	h := newHarness(t, "a", net.Join("a"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	// leader ticks on its own
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))
	h.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(seen.all()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, bus.KindTime, seen.all()[0].Kind)

	// a newer leader appears
	future := h.clock.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, observer.Publish(bus.Time("", future)))
	require.Eventually(t, func() bool { return h.c.Role() == Follower }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 0))

	// and resigns; the tab takes over within one period
	require.NoError(t, observer.Publish(bus.LeaderResigned("")))
	require.Eventually(t, func() bool { return h.c.Role() == Leader }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))

	sent := len(seen.all())
	h.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(seen.all()) > sent }, time.Second, 5*time.Millisecond)
	last := seen.all()[len(seen.all())-1]
	assert.Equal(t, bus.Time("a", h.clock.Now().UnixMilli()), last)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	msgs := seen.all()
	assert.Equal(t, bus.LeaderResigned("a"), msgs[len(msgs)-1])
	assert.Equal(t, 1, net.Size(), "bus closed on teardown")
}

func TestRun_FollowerLeavesQuietly(t *testing.T) {
	net := bus.NewNetwork()
	observer := net.Join("observer")
	var seen msgRecorder
	require.NoError(t, observer.Subscribe(seen.handle))

	h := newHarness(t, "a", net.Join("a"), nil)
	h.c.handle(bus.Time("observer", start.UnixMilli()+1))
	require.Equal(t, Follower, h.c.Role())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.c.Run(ctx))

	assert.Empty(t, seen.all())
	assert.Equal(t, 1, net.Size())
}

func TestClose_LeavesWithoutResigning(t *testing.T) {
	net := bus.NewNetwork()
	observer := net.Join("observer")
	var seen msgRecorder
	require.NoError(t, observer.Subscribe(seen.handle))

	h := newHarness(t, "a", net.Join("a"), nil)
	require.Equal(t, Leader, h.c.Role())

	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())

	assert.Empty(t, seen.all(), "a tab that never ticked has nothing to resign")
	assert.Equal(t, 1, net.Size())
	assert.False(t, h.c.Stats().BusConnected)
}

func TestShortID(t *testing.T) {
	h := newHarness(t, "0123456789abcdef", nil, nil)
	assert.Equal(t, "01234567", h.c.ShortID())

	h = newHarness(t, "a", nil, nil)
	assert.Equal(t, "a", h.c.ShortID())
}
