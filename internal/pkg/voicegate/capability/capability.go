package capability

import (
	"errors"
	"fmt"
	"strings"
)

type Name string

const (
	ASR Name = "asr"
	TTS Name = "tts"
)

var All = []Name{ASR, TTS}

var ErrUnknownName = errors.New("unknown capability")

func Parse(s string) (Name, error) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case ASR:
		return ASR, nil
	case TTS:
		return TTS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownName, s)
}

func (n Name) Valid() bool {
	return n == ASR || n == TTS
}

func (n Name) String() string {
	return string(n)
}
