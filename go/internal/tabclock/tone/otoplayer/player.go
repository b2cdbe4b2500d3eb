// Package otoplayer plays tones on the local audio device through oto.
package otoplayer

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

// Player renders tones to PCM and hands them to an oto context. Each tone
// plays on its own oto player, so overlapping tones are mixed by oto.
type Player struct {
	sampleRate int

	once sync.Once
	ctx  *oto.Context
	err  error
}

// New returns a player. The audio device is opened lazily on the first
// tone so that tabs that never become leader never touch it.
func New(sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = tone.DefaultSampleRate
	}
	return &Player{sampleRate: sampleRate}
}

func (p *Player) init() {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   p.sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		p.err = fmt.Errorf("open audio device: %w", err)
		log.Warn().Err(p.err).Msg("tones disabled")
		return
	}
	<-ready
	p.ctx = ctx
	log.Debug().Int("sample_rate", p.sampleRate).Msg("audio device opened")
}

// Play starts the tone and returns immediately.
func (p *Player) Play(t tone.Tone) {
	p.once.Do(p.init)
	if p.ctx == nil {
		tone.Nop{}.Play(t)
		return
	}

	// a suspended context would swallow the tone silently
	if err := p.ctx.Resume(); err != nil {
		log.Warn().Err(err).Msg("failed to resume audio context")
	}

	pcm := tone.PCM(t, p.sampleRate)
	go func() {
		player := p.ctx.NewPlayer(bytes.NewReader(pcm))
		player.Play()
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := player.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close tone player")
		}
	}()
}

// Err reports why the audio device could not be opened, if it could not.
func (p *Player) Err() error {
	p.once.Do(p.init)
	return p.err
}
