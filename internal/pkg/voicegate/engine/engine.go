package engine

import (
	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
)

type Info struct {
	Name       string
	Capability capability.Name
	Languages  []string
	SampleRate int
	// Reentrant engines may run several inferences at once and get a
	// bounded pool; the rest are serialised behind a single slot.
	Reentrant bool
}

type Engine interface {
	Info() Info
	Close() error
}

type Transcription struct {
	Text       string
	Confidence *float32
}

type Transcriber interface {
	Engine
	Transcribe(pcm *audio.PCMBuffer, language string) (Transcription, error)
}

// Speed bounds for SynthesisOptions. Zero means the engine default of 1.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

type SynthesisOptions struct {
	Voice string
	Speed float32
}

type Synthesizer interface {
	Engine
	Synthesize(text string, opts SynthesisOptions) (*audio.PCMBuffer, error)
	ListVoices() []string
}

// Warmer is implemented by engines that know how to prime themselves.
// Engines without it get a generic warm-up pass from Handle.Compile.
type Warmer interface {
	Warmup() error
}

type Request interface {
	Capability() capability.Name
}

type ASRRequest struct {
	Audio    *audio.PCMBuffer
	Language string
}

func (ASRRequest) Capability() capability.Name { return capability.ASR }

type TTSRequest struct {
	Text  string
	Voice string
	Speed float32
}

func (TTSRequest) Capability() capability.Name { return capability.TTS }

type Result interface {
	Capability() capability.Name
}

type ASRResult struct {
	Transcript string
	Confidence *float32
}

func (ASRResult) Capability() capability.Name { return capability.ASR }

type TTSResult struct {
	Audio *audio.PCMBuffer
}

func (TTSResult) Capability() capability.Name { return capability.TTS }
