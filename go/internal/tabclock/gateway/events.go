package gateway

import (
	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
	"github.com/mcdev12/tabclock/go/internal/tabclock/display"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

// FrameType represents the type of frame sent to overlays
type FrameType string

const (
	FrameTypeRender FrameType = "render"
	FrameTypeTone   FrameType = "tone"
)

// Frame is the JSON envelope pushed to every connected overlay. Render
// frames carry the clock face; tone frames ask the overlay to beep.
type Frame struct {
	Type FrameType `json:"type"`

	TimestampMs int64  `json:"timestamp_ms,omitempty"`
	Text        string `json:"text,omitempty"`
	Highlight   string `json:"highlight,omitempty"`
	Background  string `json:"background,omitempty"`

	FrequencyHz float64 `json:"frequency_hz,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
}

// NewRenderFrame builds the frame for one clock face update.
func NewRenderFrame(f display.Formatter, timestampMs int64, h alarm.Highlight) Frame {
	return Frame{
		Type:        FrameTypeRender,
		TimestampMs: timestampMs,
		Text:        f.Format(timestampMs),
		Highlight:   h.String(),
		Background:  f.Background(timestampMs, h),
	}
}

// NewToneFrame builds the frame for one beep.
func NewToneFrame(t tone.Tone) Frame {
	return Frame{
		Type:        FrameTypeTone,
		FrequencyHz: t.FrequencyHz,
		DurationMs:  t.Duration.Milliseconds(),
		Volume:      t.Volume,
	}
}
