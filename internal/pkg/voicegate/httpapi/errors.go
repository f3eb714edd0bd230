package httpapi

import (
	"context"
	"errors"
	"net/http"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
)

var (
	ErrValidation      = errors.New("invalid request")
	ErrPayloadTooLarge = errors.New("payload too large")
)

const (
	codeNotEnabled        = "not_enabled"
	codeUnavailable       = "unavailable"
	codeValidation        = "validation_error"
	codePayloadTooLarge   = "payload_too_large"
	codeUnsupportedFormat = "unsupported_format"
	codeCorruptAudio      = "corrupt_audio"
	codeBusy              = "busy"
	codeInference         = "inference_error"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps a request failure to its status and wire code. Anything not
// recognised is internal and its message is withheld from the client.
func classify(err error) (status int, code string, message string) {
	switch {
	case errors.Is(err, capability.ErrNotEnabled):
		return http.StatusServiceUnavailable, codeNotEnabled, err.Error()
	case errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable, codeUnavailable, err.Error()
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests, codeBusy, "engine busy, retry later"
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, codePayloadTooLarge, err.Error()
	case errors.Is(err, engine.ErrInference):
		return http.StatusUnprocessableEntity, codeInference, err.Error()
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, codeUnsupportedFormat, err.Error()
	case errors.Is(err, audio.ErrCorruptAudio):
		return http.StatusUnprocessableEntity, codeCorruptAudio, err.Error()
	case errors.Is(err, ErrValidation), errors.Is(err, audio.ErrEmpty):
		return http.StatusBadRequest, codeValidation, err.Error()
	}
	return http.StatusInternalServerError, codeInternal, "internal server error"
}
