package audio

import (
	"bytes"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

type Kind string

const (
	KindWAV Kind = "wav"
	KindPCM Kind = "pcm"
	KindMP3 Kind = "mp3"
)

// Format describes a wire encoding. SampleRate and Channels are only
// meaningful for raw PCM, where the bytes carry no header.
type Format struct {
	Kind       Kind
	SampleRate int
	Channels   int
}

var (
	WAV = Format{Kind: KindWAV}
	MP3 = Format{Kind: KindMP3}
)

func L16(sampleRate, channels int) Format {
	return Format{Kind: KindPCM, SampleRate: sampleRate, Channels: channels}
}

// ParseFormat accepts short names (wav, pcm, l16, mp3) and MIME types such
// as "audio/wav" or "audio/L16; rate=16000; channels=1". An empty hint
// returns the zero Format, which Decode resolves by sniffing.
func ParseFormat(hint string) (Format, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return Format{}, nil
	}

	mediaType, params, err := mime.ParseMediaType(hint)
	if err != nil {
		mediaType = strings.ToLower(hint)
		params = nil
	}

	switch mediaType {
	case "wav", "wave", "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return WAV, nil
	case "mp3", "mpeg", "audio/mpeg", "audio/mp3":
		return MP3, nil
	case "pcm", "l16", "raw", "audio/l16", "audio/pcm":
		f := Format{Kind: KindPCM, Channels: 1}
		if v, ok := params["rate"]; ok {
			rate, err := strconv.Atoi(v)
			if err != nil || rate <= 0 {
				return Format{}, fmt.Errorf("%w: invalid rate %q", ErrUnsupportedFormat, v)
			}
			f.SampleRate = rate
		}
		if v, ok := params["channels"]; ok {
			ch, err := strconv.Atoi(v)
			if err != nil || ch <= 0 {
				return Format{}, fmt.Errorf("%w: invalid channels %q", ErrUnsupportedFormat, v)
			}
			f.Channels = ch
		}
		return f, nil
	case "application/octet-stream", "audio/*":
		return Format{}, nil
	}
	return Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, hint)
}

func (f Format) IsZero() bool {
	return f.Kind == ""
}

func (f Format) ContentType() string {
	switch f.Kind {
	case KindWAV:
		return "audio/wav"
	case KindMP3:
		return "audio/mpeg"
	case KindPCM:
		ch := f.Channels
		if ch == 0 {
			ch = 1
		}
		return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, ch)
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	if f.Kind == KindPCM {
		return f.ContentType()
	}
	return string(f.Kind)
}

// Sniff guesses a container from its leading bytes. Raw PCM has no
// signature and is never sniffed.
func Sniff(raw []byte) (Format, error) {
	switch {
	case len(raw) >= 12 && bytes.Equal(raw[0:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")):
		return WAV, nil
	case len(raw) >= 3 && bytes.Equal(raw[0:3], []byte("ID3")):
		return MP3, nil
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0:
		return MP3, nil
	}
	return Format{}, fmt.Errorf("%w: unrecognised container", ErrUnsupportedFormat)
}
