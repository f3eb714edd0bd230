package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Stream is the part of the go-mp3 decoder DecodeMP3 reads from.
type mp3Stream interface {
	io.Reader
	SampleRate() int
}

func openMP3(r io.Reader) (mp3Stream, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// DecodeMP3 decodes an MPEG-1/2 layer III stream. The decoder always emits
// 16-bit stereo; the result keeps both channels.
func DecodeMP3(raw []byte) (*PCMBuffer, error) {
	return decodeMP3(raw, openMP3)
}

// decodeMP3 turns decoder panics on malformed frames into ErrCorruptAudio.
func decodeMP3(raw []byte, open func(io.Reader) (mp3Stream, error)) (p *PCMBuffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: mp3 decoder: %v", ErrCorruptAudio, r)
		}
	}()

	dec, err := open(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAudio, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAudio, err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%4]

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = fromInt16(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return &PCMBuffer{Samples: samples, SampleRate: dec.SampleRate(), Channels: 2}, nil
}
