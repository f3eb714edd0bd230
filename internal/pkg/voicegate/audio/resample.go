package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts p to the target rate. Multi-channel input is downmixed
// first; the result is always mono and keeps the input duration.
func Resample(p *PCMBuffer, rate int) (*PCMBuffer, error) {
	mono := p.Mono()
	if mono.SampleRate == rate {
		return mono, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(mono.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	in := make([]float64, len(mono.Samples))
	for i, s := range mono.Samples {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("failed to resample %d Hz -> %d Hz: %w", mono.SampleRate, rate, err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("failed to flush resampler: %w", err)
	}
	out = append(out, tail...)

	// The flushed tail can be off by a few samples either way.
	want := int(math.Round(float64(len(in)) * float64(rate) / float64(mono.SampleRate)))
	if len(out) > want {
		out = out[:want]
	}
	for len(out) < want {
		out = append(out, 0)
	}

	samples := make([]float32, len(out))
	for i, s := range out {
		samples[i] = clamp(float32(s))
	}
	return NewPCMBuffer(samples, rate), nil
}
