package alarm

// Event is an edge-triggered side effect produced by Evaluate.
type Event string

const (
	EventPreWindowEnter Event = "PreWindowEnter"
	EventPreWindowExit  Event = "PreWindowExit"
	EventLowBeep        Event = "LowBeep"
	EventHighBeep       Event = "HighBeep"
)

// Highlight is the background state the renderer should paint.
type Highlight int

const (
	HighlightNone Highlight = iota
	HighlightAlternating
	HighlightSolidRed
)

func (h Highlight) String() string {
	switch h {
	case HighlightNone:
		return "NONE"
	case HighlightAlternating:
		return "ALTERNATING"
	case HighlightSolidRed:
		return "SOLID_RED"
	default:
		return "UNKNOWN"
	}
}

// Red reports whether the background is red during the given second.
func (h Highlight) Red(second int) bool {
	switch h {
	case HighlightSolidRed:
		return true
	case HighlightAlternating:
		return second%2 == 0
	default:
		return false
	}
}

// State holds the three edge-trigger latches. The zero value is the
// state of a freshly promoted leader.
type State struct {
	PreWindowActive bool
	LowBeepFired    bool
	HighBeepFired   bool
}

// Result is the outcome of one evaluation.
type Result struct {
	Events    []Event
	Highlight Highlight
	State     State
}

// Fired reports whether ev is among the result's events.
func (r Result) Fired(ev Event) bool {
	for _, e := range r.Events {
		if e == ev {
			return true
		}
	}
	return false
}

func inPreWindow(minute int) bool { return minute == 29 || minute == 59 }

func onTheHalfHour(minute int) bool { return minute == 0 || minute == 30 }

// Evaluate runs the alarm schedule for one observation of (minute, second).
// It must be called at least once per second; calling it several times
// within the same second is safe because every event is latched.
func Evaluate(minute, second int, st State) Result {
	res := Result{Highlight: HighlightNone, State: st}

	if inPreWindow(minute) {
		if !res.State.PreWindowActive {
			res.State.PreWindowActive = true
			res.Events = append(res.Events, EventPreWindowEnter)
		}
		res.Highlight = HighlightAlternating
	} else if res.State.PreWindowActive {
		res.State.PreWindowActive = false
		res.Events = append(res.Events, EventPreWindowExit)
	}

	if inPreWindow(minute) && second >= 30 {
		if second%2 == 0 {
			if !res.State.LowBeepFired {
				res.State.LowBeepFired = true
				res.Events = append(res.Events, EventLowBeep)
			}
		} else {
			res.State.LowBeepFired = false
		}
	} else {
		res.State.LowBeepFired = false
	}

	if second == 0 && onTheHalfHour(minute) {
		if !res.State.HighBeepFired {
			res.State.HighBeepFired = true
			res.Events = append(res.Events, EventHighBeep)
		}
		res.Highlight = HighlightSolidRed
		return res
	}
	res.State.HighBeepFired = false

	return res
}
