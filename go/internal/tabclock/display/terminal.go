package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/alarm"
)

// Terminal repaints the clock on a single terminal line.
type Terminal struct {
	out       io.Writer
	formatter Formatter
	base      lipgloss.Style

	mu   sync.Mutex
	last string
}

// NewTerminal creates a terminal renderer. showBorder draws a rounded
// border around the clock face.
func NewTerminal(out io.Writer, formatter Formatter, showBorder bool) *Terminal {
	base := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorWhite)).
		Padding(0, 1).
		Width(14).
		Align(lipgloss.Center)
	if showBorder {
		base = base.Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(ColorWhite))
	}

	return &Terminal{
		out:       out,
		formatter: formatter,
		base:      base,
	}
}

// Render paints the frame unless it is identical to the previous one.
func (t *Terminal) Render(timestampMs int64, h alarm.Highlight) {
	frame := t.base.
		Background(lipgloss.Color(t.formatter.Background(timestampMs, h))).
		Render(t.formatter.Format(timestampMs))

	t.mu.Lock()
	defer t.mu.Unlock()

	if frame == t.last {
		return
	}
	t.last = frame

	// borders span several lines; only the single-line face can be redrawn in place
	prefix := "\r"
	if lipgloss.Height(frame) > 1 {
		prefix = "\n"
	}
	if _, err := fmt.Fprint(t.out, prefix+frame); err != nil {
		log.Debug().Err(err).Msg("failed to paint terminal clock")
	}
}
