// Package enginetest provides instrumented in-memory engines for tests that
// exercise handles and the HTTP router without loading real models.
package enginetest

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
)

// Probe records how many calls are inside the model at once.
type Probe struct {
	calls   atomic.Int64
	active  atomic.Int64
	peak    atomic.Int64
	reenter atomic.Int64
	// Exclusive makes the probe count any overlapping call as reentry.
	Exclusive bool
}

func (p *Probe) enter() {
	p.calls.Add(1)
	n := p.active.Add(1)
	if p.Exclusive && n > 1 {
		p.reenter.Add(1)
	}
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
}

func (p *Probe) exit() { p.active.Add(-1) }

func (p *Probe) Calls() int     { return int(p.calls.Load()) }
func (p *Probe) Peak() int      { return int(p.peak.Load()) }
func (p *Probe) Reentries() int { return int(p.reenter.Load()) }

// Synthesizer emits a short tone whose frequency depends on the text length,
// so concurrent callers can tell their results apart.
type Synthesizer struct {
	Probe
	Delay     time.Duration
	Err       error
	Panic     bool
	Empty     bool
	Reentrant bool

	mu     sync.Mutex
	texts  []string
	closed bool
}

func (s *Synthesizer) Info() engine.Info {
	return engine.Info{
		Name:       "stub-tts",
		Capability: capability.TTS,
		Languages:  []string{"en", "zh"},
		SampleRate: audio.TTSSampleRate,
		Reentrant:  s.Reentrant,
	}
}

func (s *Synthesizer) Synthesize(text string, opts engine.SynthesisOptions) (*audio.PCMBuffer, error) {
	s.enter()
	defer s.exit()

	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	if s.Panic {
		panic("stub synthesizer exploded")
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Empty {
		return audio.NewPCMBuffer(nil, audio.TTSSampleRate), nil
	}
	return audio.NewPCMBuffer(Tone(len(text), audio.TTSSampleRate/10, audio.TTSSampleRate), audio.TTSSampleRate), nil
}

func (s *Synthesizer) ListVoices() []string { return []string{"default", "narrator"} }

func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed twice")
	}
	s.closed = true
	return nil
}

func (s *Synthesizer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Transcriber returns Text (or the sample count when Text is empty).
type Transcriber struct {
	Probe
	Text      string
	Delay     time.Duration
	Err       error
	Reentrant bool

	mu       sync.Mutex
	lastRate int
	closed   bool
}

func (t *Transcriber) Info() engine.Info {
	return engine.Info{
		Name:       "stub-asr",
		Capability: capability.ASR,
		Languages:  []string{"zh"},
		SampleRate: audio.ASRSampleRate,
		Reentrant:  t.Reentrant,
	}
}

func (t *Transcriber) Transcribe(pcm *audio.PCMBuffer, language string) (engine.Transcription, error) {
	t.enter()
	defer t.exit()

	t.mu.Lock()
	t.lastRate = pcm.SampleRate
	t.mu.Unlock()

	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}
	if t.Err != nil {
		return engine.Transcription{}, t.Err
	}
	conf := float32(0.9)
	text := t.Text
	if text == "" {
		text = "silence"
		if !audio.IsSilent(pcm.Samples, audio.DefaultSilenceThreshold) {
			text = "speech"
		}
	}
	return engine.Transcription{Text: text, Confidence: &conf}, nil
}

func (t *Transcriber) LastSampleRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRate
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Tone returns n samples of a sine whose pitch is 100 Hz * (1 + seed%10).
func Tone(seed, n, rate int) []float32 {
	freq := 100 * float64(1+seed%10)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
