package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/engine/enginetest"
)

func init() {
	engine.Register("stub-asr-test", capability.ASR, func(engine.Config) (engine.Engine, error) {
		return &enginetest.Transcriber{Reentrant: true}, nil
	})
	engine.Register("broken-tts-test", capability.TTS, func(engine.Config) (engine.Engine, error) {
		return nil, errors.New("missing model.onnx")
	})
}

func TestRegistry_New(t *testing.T) {
	t.Parallel()

	eng, err := engine.New("stub-asr-test", capability.ASR, engine.Config{})
	require.NoError(t, err)
	assert.Equal(t, "stub-asr", eng.Info().Name)

	_, err = engine.New("whisper-large", capability.ASR, engine.Config{})
	assert.ErrorIs(t, err, engine.ErrUnknownBackend)

	_, err = engine.New("broken-tts-test", capability.TTS, engine.Config{})
	assert.EqualError(t, err, "missing model.onnx")
}

func TestRegistry_Listing(t *testing.T) {
	t.Parallel()

	assert.True(t, engine.IsRegistered("stub-asr-test"))
	assert.False(t, engine.IsRegistered("nope"))
	assert.Contains(t, engine.Backends(capability.ASR), "stub-asr-test")
	assert.NotContains(t, engine.Backends(capability.ASR), "broken-tts-test")
}

func TestRegistry_PanicsOnMisuse(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		engine.Register("stub-asr-test", capability.ASR, func(engine.Config) (engine.Engine, error) { return nil, nil })
	})
	assert.Panics(t, func() { engine.Register("nil-factory", capability.ASR, nil) })
	assert.Panics(t, func() {
		engine.Register("bad-cap", "video", func(engine.Config) (engine.Engine, error) { return nil, nil })
	})
}
