package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{"--enable-tts", "--tts-model-dir", "/models/kokoro"})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
	assert.True(t, cfg.EnableTTS)
	assert.False(t, cfg.EnableASR)
	assert.Equal(t, "/models/kokoro", cfg.TTSModelDir)
	assert.Equal(t, "kokoro", cfg.TTSBackend)
	assert.Equal(t, "ctc", cfg.ASRBackend)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, PolicyStrict, cfg.CompilePolicy)
	assert.Equal(t, 10*time.Second, cfg.GuardTimeout)
	assert.Equal(t, 16, cfg.MaxQueue)
	assert.Equal(t, int64(25<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 2000, cfg.MaxTextLength)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Flags(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{
		"--enable-asr", "--asr-model-dir", "/m/asr",
		"--port", "8080", "--host", "127.0.0.1",
		"--device", "cuda:1",
		"--compile", "--compile-policy", "DEGRADE",
		"--guard-timeout", "250ms",
		"--asr-pool-size", "4",
		"--max-queue", "0",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "cuda:1", cfg.Device)
	assert.True(t, cfg.Compile)
	assert.Equal(t, PolicyDegrade, cfg.CompilePolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.GuardTimeout)
	assert.Equal(t, 4, cfg.ASRPoolSize)
	assert.Equal(t, 0, cfg.MaxQueue)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
enable_asr = true
enable_tts = true
asr_model_dir = "/srv/asr"
tts_model_dir = "/srv/tts"
port = 6000
default_voice = "af_heart"
`), 0o644))

	cfg, err := Load([]string{"-c", path, "--port", "7000"})
	require.NoError(t, err)
	assert.True(t, cfg.EnableASR)
	assert.True(t, cfg.EnableTTS)
	assert.Equal(t, "/srv/asr", cfg.ASRModelDir)
	assert.Equal(t, "af_heart", cfg.DefaultVoice)
	assert.Equal(t, 7000, cfg.Port, "flags override the config file")

	_, err = Load([]string{"-c", filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("VOICEGATE_ENABLE_ASR", "true")
	t.Setenv("VOICEGATE_ASR_MODEL_DIR", "/env/asr")
	t.Setenv("VOICEGATE_MAX_QUEUE", "3")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.EnableASR)
	assert.Equal(t, "/env/asr", cfg.ASRModelDir)
	assert.Equal(t, 3, cfg.MaxQueue)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"nothing enabled":   {},
		"asr without dir":   {"--enable-asr"},
		"tts without dir":   {"--enable-tts"},
		"bad device":        {"--enable-tts", "--tts-model-dir", "x", "--device", "tpu"},
		"bad policy":        {"--enable-tts", "--tts-model-dir", "x", "--compile-policy", "maybe"},
		"zero pool":         {"--enable-asr", "--asr-model-dir", "x", "--asr-pool-size", "0"},
		"zero guard":        {"--enable-asr", "--asr-model-dir", "x", "--guard-timeout", "0s"},
		"negative body cap": {"--enable-asr", "--asr-model-dir", "x", "--max-body-bytes", "-1"},
		"unknown flag":      {"--enable-everything"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(args)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Help(t *testing.T) {
	t.Parallel()

	_, err := Load([]string{"-h"})
	assert.ErrorIs(t, err, ErrHelp)
}
