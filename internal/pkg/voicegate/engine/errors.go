package engine

import (
	"errors"
	"fmt"

	"voicegate/internal/pkg/voicegate/capability"
)

var (
	ErrModelLoad      = errors.New("model load failed")
	ErrCompile        = errors.New("model compile failed")
	ErrBusy           = errors.New("engine busy")
	ErrInference      = errors.New("inference failed")
	ErrClosed         = errors.New("engine closed")
	ErrNotReady       = errors.New("engine not ready")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrWrongRequest   = errors.New("request does not match engine capability")
)

// InferenceError is a failure reported by the model itself. It is scoped to
// one request and never affects other requests on the same handle.
type InferenceError struct {
	Capability capability.Name
	Err        error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Capability, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}
