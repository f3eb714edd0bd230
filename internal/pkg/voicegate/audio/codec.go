package audio

import (
	"fmt"
)

// Decode turns wire bytes into a PCMBuffer. A zero Format means "sniff the
// container"; raw PCM must always be declared since it has no header.
func Decode(raw []byte, f Format) (*PCMBuffer, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	if f.IsZero() {
		sniffed, err := Sniff(raw)
		if err != nil {
			return nil, err
		}
		f = sniffed
	}

	var (
		p   *PCMBuffer
		err error
	)
	switch f.Kind {
	case KindWAV:
		p, err = DecodeWAV(raw)
	case KindPCM:
		p, err = DecodeL16(raw, f.SampleRate, f.Channels)
	case KindMP3:
		p, err = DecodeMP3(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, err
	}
	if err := checkDecoded(p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkDecoded accepts any input rate the resampler can work with. The
// engine range is enforced on the buffer DecodeTo hands out.
func checkDecoded(p *PCMBuffer) error {
	if len(p.Samples) == 0 {
		return ErrEmpty
	}
	if p.Channels < 1 {
		return fmt.Errorf("%w: %d channels", ErrCorruptAudio, p.Channels)
	}
	if p.SampleRate < MinInputRate || p.SampleRate > MaxInputRate {
		return fmt.Errorf("%w: sample rate %d outside %d-%d Hz", ErrUnsupportedFormat, p.SampleRate, MinInputRate, MaxInputRate)
	}
	return nil
}

// DecodeTo decodes raw and returns mono audio at rate, which is what the ASR
// engines consume.
func DecodeTo(raw []byte, f Format, rate int) (*PCMBuffer, error) {
	p, err := Decode(raw, f)
	if err != nil {
		return nil, err
	}
	out, err := Resample(p, rate)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func Encode(p *PCMBuffer, f Format) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch f.Kind {
	case KindWAV, "":
		return EncodeWAV(p)
	case KindPCM:
		return EncodeL16(p), nil
	}
	return nil, fmt.Errorf("%w: cannot encode %s", ErrUnsupportedFormat, f)
}

// OutputFormat returns the format Encode will actually produce for p given
// the requested one. Raw PCM takes its rate and channel count from the audio.
func OutputFormat(p *PCMBuffer, requested Format) Format {
	if requested.Kind == KindPCM {
		return L16(p.SampleRate, p.Channels)
	}
	if requested.IsZero() {
		return WAV
	}
	return requested
}
