package capability_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/pkg/voicegate/capability"
)

type fakeHandle struct {
	name   capability.Name
	closed bool
	err    error
}

func (f *fakeHandle) Capability() capability.Name { return f.name }

func (f *fakeHandle) Close(context.Context) error {
	f.closed = true
	return f.err
}

func TestRegistry_LookupEnabledAndDisabled(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry[*fakeHandle]()
	tts := &fakeHandle{name: capability.TTS}
	require.NoError(t, reg.Register(capability.TTS, tts))
	reg.Freeze()

	got, err := reg.Lookup(capability.TTS)
	require.NoError(t, err)
	assert.Same(t, tts, got)

	_, err = reg.Lookup(capability.ASR)
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrNotEnabled)

	assert.True(t, reg.Enabled(capability.TTS))
	assert.False(t, reg.Enabled(capability.ASR))
	assert.Equal(t, []capability.Name{capability.TTS}, reg.Names())
}

func TestRegistry_RegisterAfterFreeze(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry[*fakeHandle]()
	reg.Freeze()

	err := reg.Register(capability.ASR, &fakeHandle{name: capability.ASR})
	assert.ErrorIs(t, err, capability.ErrFrozen)
	assert.True(t, reg.Frozen())

	_, err = reg.Lookup(capability.ASR)
	assert.ErrorIs(t, err, capability.ErrNotEnabled)
}

func TestRegistry_RejectsDuplicateAndMismatch(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry[*fakeHandle]()
	require.NoError(t, reg.Register(capability.ASR, &fakeHandle{name: capability.ASR}))

	err := reg.Register(capability.ASR, &fakeHandle{name: capability.ASR})
	assert.ErrorIs(t, err, capability.ErrDuplicate)

	err = reg.Register(capability.TTS, &fakeHandle{name: capability.ASR})
	assert.Error(t, err)

	err = reg.Register("video", &fakeHandle{name: "video"})
	assert.ErrorIs(t, err, capability.ErrUnknownName)
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry[*fakeHandle]()
	require.NoError(t, reg.Register(capability.ASR, &fakeHandle{name: capability.ASR}))
	require.NoError(t, reg.Register(capability.TTS, &fakeHandle{name: capability.TTS}))
	reg.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := capability.All[i%len(capability.All)]
			h, err := reg.Lookup(name)
			assert.NoError(t, err)
			assert.Equal(t, name, h.Capability())
		}(i)
	}
	wg.Wait()
}

func TestRegistry_CloseReleasesAll(t *testing.T) {
	t.Parallel()

	reg := capability.NewRegistry[*fakeHandle]()
	asr := &fakeHandle{name: capability.ASR, err: errors.New("device busy")}
	tts := &fakeHandle{name: capability.TTS}
	require.NoError(t, reg.Register(capability.ASR, asr))
	require.NoError(t, reg.Register(capability.TTS, tts))

	err := reg.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close asr")
	assert.True(t, asr.closed)
	assert.True(t, tts.closed)
	assert.True(t, reg.Frozen())
}

func TestParse(t *testing.T) {
	t.Parallel()

	n, err := capability.Parse(" TTS ")
	require.NoError(t, err)
	assert.Equal(t, capability.TTS, n)

	_, err = capability.Parse("vision")
	assert.ErrorIs(t, err, capability.ErrUnknownName)
}
