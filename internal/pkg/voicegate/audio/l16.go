package audio

import (
	"encoding/binary"
	"fmt"
)

// EncodeL16 writes signed 16-bit little-endian samples with no header.
func EncodeL16(p *PCMBuffer) []byte {
	out := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func DecodeL16(raw []byte, sampleRate, channels int) (*PCMBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: raw PCM needs a sample rate (audio/L16; rate=N)", ErrUnsupportedFormat)
	}
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	if len(raw)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel 16-bit frames", ErrCorruptAudio, len(raw), channels)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = fromInt16(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	return &PCMBuffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
