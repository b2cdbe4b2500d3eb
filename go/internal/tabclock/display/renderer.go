package display

import (
	"fmt"
	"time"

	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
)

const (
	ColorRed   = "#FF0000"
	ColorBlack = "#000000"
	ColorWhite = "#FFFFFF"
)

// Renderer paints a timestamp with the given highlight. Implementations must
// be idempotent and cheap enough to be called ten times a second.
type Renderer interface {
	Render(timestampMs int64, h alarm.Highlight)
}

// Func adapts a plain function to Renderer.
type Func func(timestampMs int64, h alarm.Highlight)

func (f Func) Render(timestampMs int64, h alarm.Highlight) { f(timestampMs, h) }

// Multi fans a render call out to every renderer in order.
type Multi []Renderer

func (m Multi) Render(timestampMs int64, h alarm.Highlight) {
	for _, r := range m {
		r.Render(timestampMs, h)
	}
}

// Formatter turns epoch milliseconds into the clock face text.
type Formatter struct {
	Location  *time.Location
	Use24Hour bool
}

// Time converts timestampMs into the formatter's location.
func (f Formatter) Time(timestampMs int64) time.Time {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(timestampMs).In(loc)
}

// Format returns "h:MM:SS AM" (hour not padded, midnight as 12) or, in
// 24-hour mode, "HH:MM:SS".
func (f Formatter) Format(timestampMs int64) string {
	t := f.Time(timestampMs)
	if f.Use24Hour {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	}

	meridiem := "AM"
	if t.Hour() >= 12 {
		meridiem = "PM"
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d:%02d:%02d %s", hour, t.Minute(), t.Second(), meridiem)
}

// Background resolves the concrete background color for a frame.
func (f Formatter) Background(timestampMs int64, h alarm.Highlight) string {
	if h.Red(f.Time(timestampMs).Second()) {
		return ColorRed
	}
	return ColorBlack
}
