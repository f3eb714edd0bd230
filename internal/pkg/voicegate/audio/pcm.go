package audio

import (
	"errors"
	"fmt"
	"math"
)

const (
	ASRSampleRate = 16000
	TTSSampleRate = 24000

	MinSampleRate = 8000
	MaxSampleRate = 48000

	// Uploads may use any rate in this range; DecodeTo resamples them into
	// the engine range.
	MinInputRate = 1000
	MaxInputRate = 384000

	DefaultSilenceThreshold = 0.001
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrCorruptAudio      = errors.New("corrupt audio")
	ErrEmpty             = errors.New("empty audio")
)

// PCMBuffer is decoded audio. Samples are float32 in [-1, 1], interleaved
// when Channels > 1.
type PCMBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func NewPCMBuffer(samples []float32, sampleRate int) *PCMBuffer {
	return &PCMBuffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
	}
}

func (p *PCMBuffer) Validate() error {
	if p == nil || len(p.Samples) == 0 {
		return ErrEmpty
	}
	if p.Channels < 1 {
		return fmt.Errorf("%w: %d channels", ErrCorruptAudio, p.Channels)
	}
	if p.SampleRate < MinSampleRate || p.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d outside %d-%d Hz", ErrUnsupportedFormat, p.SampleRate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

func (p *PCMBuffer) Frames() int {
	if p.Channels < 1 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func (p *PCMBuffer) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

// Mono averages interleaved channels into a single channel. A buffer that
// is already mono is returned unchanged.
func (p *PCMBuffer) Mono() *PCMBuffer {
	if p.Channels <= 1 {
		return p
	}
	frames := p.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < p.Channels; c++ {
			sum += p.Samples[i*p.Channels+c]
		}
		out[i] = sum / float32(p.Channels)
	}
	return NewPCMBuffer(out, p.SampleRate)
}

func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func IsSilent(samples []float32, threshold float64) bool {
	return RMS(samples) < threshold
}

// Normalize scales samples in place so the peak magnitude is 1. Near-silent
// input (peak <= 1e-6) is left alone.
func Normalize(samples []float32) {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak <= 1e-6 {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}

func clamp(s float32) float32 {
	if s > 1.0 {
		return 1.0
	}
	if s < -1.0 {
		return -1.0
	}
	return s
}

// toInt16 and fromInt16 share the 32767 scale so a round trip is off by at
// most half a quantisation step.
func toInt16(s float32) int16 {
	return int16(math.Round(float64(clamp(s)) * math.MaxInt16))
}

func fromInt16(v int16) float32 {
	return clamp(float32(v) / math.MaxInt16)
}
