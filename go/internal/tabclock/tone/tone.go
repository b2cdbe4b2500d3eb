package tone

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultVolume     = 0.5
	DefaultSampleRate = 44100

	// gain the envelope decays to by the end of a tone
	floorGain = 0.001
)

// Tone is a single decaying sine beep.
type Tone struct {
	FrequencyHz float64
	Duration    time.Duration
	Volume      float64
}

var (
	Low  = Tone{FrequencyHz: 440, Duration: 200 * time.Millisecond, Volume: DefaultVolume}
	High = Tone{FrequencyHz: 880, Duration: 1500 * time.Millisecond, Volume: DefaultVolume}
)

// WithVolume returns a copy of t played at v, clamped to [0,1].
func (t Tone) WithVolume(v float64) Tone {
	t.Volume = math.Max(0, math.Min(1, v))
	return t
}

// Player plays tones. Play must not block the caller.
type Player interface {
	Play(t Tone)
}

// Func adapts a plain function to Player.
type Func func(t Tone)

func (f Func) Play(t Tone) { f(t) }

// Multi plays a tone on every player in order.
type Multi []Player

func (m Multi) Play(t Tone) {
	for _, p := range m {
		p.Play(t)
	}
}

// Nop logs the tone and produces no sound. Used when no audio device is
// available.
type Nop struct{}

func (Nop) Play(t Tone) {
	log.Debug().
		Float64("frequency_hz", t.FrequencyHz).
		Dur("duration", t.Duration).
		Msg("tone skipped, no audio output")
}

// Gain returns the envelope gain i samples into the tone. It ramps
// exponentially from Volume down to 0.001 over Duration.
func (t Tone) Gain(i, sampleRate int) float64 {
	n := t.Samples(sampleRate)
	if n == 0 || t.Volume <= 0 {
		return 0
	}
	if t.Volume <= floorGain {
		return t.Volume
	}
	frac := float64(i) / float64(n)
	return t.Volume * math.Pow(floorGain/t.Volume, frac)
}

// Samples is the number of samples the tone lasts at sampleRate.
func (t Tone) Samples(sampleRate int) int {
	return int(math.Round(float64(sampleRate) * t.Duration.Seconds()))
}

// PCM renders the tone as signed 16-bit little-endian mono samples.
func PCM(t Tone, sampleRate int) []byte {
	n := t.Samples(sampleRate)
	buf := make([]byte, n*2)
	step := 2 * math.Pi * t.FrequencyHz / float64(sampleRate)
	for i := 0; i < n; i++ {
		v := int16(math.Sin(step*float64(i)) * t.Gain(i, sampleRate) * 32767)
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return buf
}
