package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	bitsPerSample = 16
)

func WriteWAV(w io.Writer, p *PCMBuffer) error {
	channels := p.Channels
	if channels < 1 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := p.SampleRate * blockAlign
	dataSize := len(p.Samples) * bitsPerSample / 8
	fileSize := 36 + dataSize

	header := []any{
		[]byte("RIFF"),
		uint32(fileSize),
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(wavFormatPCM),
		uint16(channels),
		uint32(p.SampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[]byte("data"),
		uint32(dataSize),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write WAV header: %w", err)
		}
	}

	samples := make([]int16, len(p.Samples))
	for i, s := range p.Samples {
		samples[i] = toInt16(s)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}

func EncodeWAV(p *PCMBuffer) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(44 + len(p.Samples)*2)
	if err := WriteWAV(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type wavFmt struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	blockAlign    uint16
	bitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE file. Integer PCM of 8, 16, 24 and 32 bits and
// 32-bit IEEE float are accepted. Channels are kept interleaved.
func DecodeWAV(raw []byte) (*PCMBuffer, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrCorruptAudio)
	}

	var (
		format *wavFmt
		data   []byte
	)
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(raw) {
			if id != "data" {
				return nil, fmt.Errorf("%w: chunk %q overruns file", ErrCorruptAudio, id)
			}
			// streaming writers leave the data size unset
			end = len(raw)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrCorruptAudio)
			}
			c := raw[body:end]
			format = &wavFmt{
				audioFormat:   binary.LittleEndian.Uint16(c[0:2]),
				channels:      binary.LittleEndian.Uint16(c[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(c[4:8]),
				blockAlign:    binary.LittleEndian.Uint16(c[12:14]),
				bitsPerSample: binary.LittleEndian.Uint16(c[14:16]),
			}
			if format.audioFormat == wavFormatExtensible && len(c) >= 26 {
				format.audioFormat = binary.LittleEndian.Uint16(c[24:26])
			}
		case "data":
			data = raw[body:end]
		}

		pos = end + (size & 1)
		if data != nil && format != nil {
			break
		}
	}

	if format == nil {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrCorruptAudio)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrCorruptAudio)
	}
	if format.channels == 0 || format.sampleRate == 0 {
		return nil, fmt.Errorf("%w: zero channels or sample rate", ErrCorruptAudio)
	}

	samples, err := decodeWAVSamples(format, data)
	if err != nil {
		return nil, err
	}
	return &PCMBuffer{
		Samples:    samples,
		SampleRate: int(format.sampleRate),
		Channels:   int(format.channels),
	}, nil
}

func decodeWAVSamples(f *wavFmt, data []byte) ([]float32, error) {
	width := int(f.bitsPerSample) / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, f.bitsPerSample)
	}
	n := len(data) / width
	// drop a trailing partial frame
	n -= n % int(f.channels)
	out := make([]float32, n)

	switch {
	case f.audioFormat == wavFormatPCM && width == 1:
		for i := 0; i < n; i++ {
			out[i] = (float32(data[i]) - 128) / 128
		}
	case f.audioFormat == wavFormatPCM && width == 2:
		for i := 0; i < n; i++ {
			out[i] = fromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case f.audioFormat == wavFormatPCM && width == 3:
		for i := 0; i < n; i++ {
			b := data[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		}
	case f.audioFormat == wavFormatPCM && width == 4:
		for i := 0; i < n; i++ {
			out[i] = float32(int32(binary.LittleEndian.Uint32(data[i*4:]))) / 2147483648
		}
	case f.audioFormat == wavFormatFloat && width == 4:
		for i := 0; i < n; i++ {
			out[i] = clamp(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	default:
		return nil, fmt.Errorf("%w: WAV encoding %d with %d bits", ErrUnsupportedFormat, f.audioFormat, f.bitsPerSample)
	}
	return out, nil
}
