package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/config"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/engine/enginetest"
)

const (
	stubASR = "stub-asr-server"
	stubTTS = "stub-tts-server"
)

// stubs maps a model directory to the engine its factory returns, so every
// test gets its own instance.
var stubs sync.Map

func init() {
	engine.Register(stubASR, capability.ASR, stubFactory)
	engine.Register(stubTTS, capability.TTS, stubFactory)
}

func stubFactory(cfg engine.Config) (engine.Engine, error) {
	if e, ok := stubs.Load(cfg.ModelDir); ok {
		return e.(engine.Engine), nil
	}
	return nil, fmt.Errorf("no stub for %s", cfg.ModelDir)
}

func stubDir(t *testing.T, e engine.Engine) string {
	t.Helper()
	dir := t.TempDir()
	stubs.Store(dir, e)
	t.Cleanup(func() { stubs.Delete(dir) })
	return dir
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func baseConfig() *config.Config {
	return &config.Config{
		Host:            "127.0.0.1",
		ASRBackend:      stubASR,
		TTSBackend:      stubTTS,
		Device:          "cpu",
		CompilePolicy:   config.PolicyStrict,
		ASRPoolSize:     2,
		TTSPoolSize:     1,
		GuardTimeout:    time.Second,
		MaxQueue:        4,
		MaxBodyBytes:    1 << 20,
		MaxTextLength:   100,
		ShutdownTimeout: 5 * time.Second,
	}
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	t.Parallel()

	tts := &enginetest.Synthesizer{}
	asr := &enginetest.Transcriber{Reentrant: true}
	cfg := baseConfig()
	cfg.EnableASR, cfg.ASRModelDir = true, stubDir(t, asr)
	cfg.EnableTTS, cfg.TTSModelDir = true, stubDir(t, tts)
	cfg.Compile = true

	srv := New(cfg, WithVersion("1.2.3"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	reg := srv.Registry()
	require.True(t, reg.Frozen())
	for _, c := range capability.All {
		h, err := reg.Lookup(c)
		require.NoError(t, err)
		assert.True(t, h.Compiled())
	}
	assert.Equal(t, []string{"你好世界"}, tts.Texts(), "compile warms the TTS engine once")

	base := "http://" + srv.Addr().String()
	res, err := http.Post(base+"/tts", "application/json", bytes.NewReader([]byte(`{"text":"hello"}`)))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, tts.Closed(), "engines are released on shutdown")

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "listener is closed")
}

func TestRun_MissingModelDirIsFatalAndNeverBinds(t *testing.T) {
	t.Parallel()

	asr := &enginetest.Transcriber{}
	cfg := baseConfig()
	cfg.Port = freePort(t)
	cfg.EnableASR, cfg.ASRModelDir = true, stubDir(t, asr)
	cfg.EnableTTS, cfg.TTSModelDir = true, filepath.Join(t.TempDir(), "does-not-exist")

	srv := New(cfg)
	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrModelLoad)

	select {
	case <-srv.Ready():
		t.Fatal("server reported ready after a load failure")
	default:
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
	require.NoError(t, err, "port was never bound")
	ln.Close()
}

func TestRun_NonexistentASRDir(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Port = freePort(t)
	cfg.EnableASR, cfg.ASRModelDir = true, "/nonexistent/asr/model"

	err := New(cfg).Run(context.Background())
	assert.ErrorIs(t, err, engine.ErrModelLoad)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
	require.NoError(t, err)
	ln.Close()
}

func TestRun_CompilePolicy(t *testing.T) {
	t.Parallel()

	t.Run("strict aborts", func(t *testing.T) {
		t.Parallel()
		tts := &enginetest.Synthesizer{Err: errors.New("warm-up kaboom")}
		cfg := baseConfig()
		cfg.EnableTTS, cfg.TTSModelDir = true, stubDir(t, tts)
		cfg.Compile = true

		err := New(cfg).Run(context.Background())
		assert.ErrorIs(t, err, engine.ErrCompile)
		assert.True(t, tts.Closed(), "a rejected handle is released")
	})

	t.Run("degrade serves uncompiled", func(t *testing.T) {
		t.Parallel()
		tts := &enginetest.Synthesizer{Err: errors.New("warm-up kaboom")}
		cfg := baseConfig()
		cfg.EnableTTS, cfg.TTSModelDir = true, stubDir(t, tts)
		cfg.Compile = true
		cfg.CompilePolicy = config.PolicyDegrade

		srv := New(cfg)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		select {
		case <-srv.Ready():
		case err := <-done:
			t.Fatalf("Run returned: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("server never became ready")
		}
		h, err := srv.Registry().Lookup(capability.TTS)
		require.NoError(t, err)
		assert.False(t, h.Compiled())
		assert.Equal(t, engine.StateReady, h.State())

		cancel()
		require.NoError(t, <-done)
	})
}

func TestRun_NothingEnabled(t *testing.T) {
	t.Parallel()
	assert.Error(t, New(baseConfig()).Run(context.Background()))
}
