package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/config"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/metrics"
	"voicegate/internal/pkg/voicegate/server"

	_ "voicegate/internal/pkg/voicegate/backends/ctc"
	_ "voicegate/internal/pkg/voicegate/backends/kokoro"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	fmt.Fprintf(os.Stderr, "voicegate %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	log.Debug().
		Bool("asr", cfg.EnableASR).
		Bool("tts", cfg.EnableTTS).
		Str("asr_backend", cfg.ASRBackend).
		Str("tts_backend", cfg.TTSBackend).
		Strs("registered_asr", engine.Backends(capability.ASR)).
		Strs("registered_tts", engine.Backends(capability.TTS)).
		Str("device", cfg.Device).
		Bool("compile", cfg.Compile).
		Str("compile_policy", cfg.CompilePolicy).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg,
		server.WithVersion(Version),
		server.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	)
	if err := srv.Run(ctx); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}
