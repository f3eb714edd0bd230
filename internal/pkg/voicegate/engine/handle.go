package engine

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
)

// WarmupText is synthesised once when a TTS handle is compiled.
const WarmupText = "你好世界"

type State int32

const (
	StateLoaded State = iota
	StateCompiling
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateCompiling:
		return "compiling"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type LoadConfig struct {
	Backend     string
	ModelDir    string
	Device      string
	PoolSize    int
	WaitTimeout time.Duration
	MaxQueue    int
}

// Handle owns one loaded engine for one capability. It is created at startup
// and released at shutdown; only the holder of a guard slot touches the model.
type Handle struct {
	capability capability.Name
	cfg        LoadConfig
	engine     Engine
	guard      *Guard

	state    atomic.Int32
	compiled atomic.Bool
}

// Load resolves the backend, loads the model from cfg.ModelDir onto
// cfg.Device and wraps it in a Handle in the Loaded state.
func Load(ctx context.Context, name capability.Name, cfg LoadConfig) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, name, err)
	}
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("%w: %s: no model directory configured", ErrModelLoad, name)
	}
	info, err := os.Stat(cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: %s is not a directory", ErrModelLoad, name, cfg.ModelDir)
	}

	start := time.Now()
	eng, err := New(cfg.Backend, name, Config{ModelDir: cfg.ModelDir, Device: cfg.Device})
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrModelLoad, name, cfg.Backend, err)
	}
	if got := eng.Info().Capability; got != name {
		eng.Close()
		return nil, fmt.Errorf("%w: backend %q reports capability %q, want %q", ErrModelLoad, cfg.Backend, got, name)
	}

	h := NewHandle(eng, cfg)
	log.Info().
		Str("capability", string(name)).
		Str("backend", cfg.Backend).
		Str("device", cfg.Device).
		Int("capacity", h.guard.Capacity()).
		Dur("elapsed", time.Since(start)).
		Msg("Model loaded")
	return h, nil
}

// NewHandle wraps an already constructed engine. Non-reentrant engines always
// get a single-slot guard regardless of cfg.PoolSize.
func NewHandle(eng Engine, cfg LoadConfig) *Handle {
	info := eng.Info()
	size := cfg.PoolSize
	if !info.Reentrant || size < 1 {
		size = 1
	}
	if cfg.Backend == "" {
		cfg.Backend = info.Name
	}
	h := &Handle{
		capability: info.Capability,
		cfg:        cfg,
		engine:     eng,
		guard:      NewGuard(size, cfg.WaitTimeout, cfg.MaxQueue),
	}
	h.state.Store(int32(StateLoaded))
	return h
}

func (h *Handle) Capability() capability.Name { return h.capability }

func (h *Handle) State() State { return State(h.state.Load()) }

func (h *Handle) Compiled() bool { return h.compiled.Load() }

func (h *Handle) Engine() Engine { return h.engine }

// Compile runs a one-time warm-up pass. Success and failure both leave the
// handle Ready; a failure is returned wrapped in ErrCompile so the caller can
// decide whether to abort.
func (h *Handle) Compile(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(StateLoaded), int32(StateCompiling)) {
		return fmt.Errorf("%w: %s handle is %s", ErrCompile, h.capability, h.State())
	}
	defer h.state.Store(int32(StateReady))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCompile, h.capability, err)
	}

	start := time.Now()
	if err := h.warmup(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCompile, h.capability, err)
	}
	h.compiled.Store(true)

	log.Info().
		Str("capability", string(h.capability)).
		Dur("elapsed", time.Since(start)).
		Msg("Warm-up compile finished")
	return nil
}

// SkipCompile moves a Loaded handle straight to Ready.
func (h *Handle) SkipCompile() {
	h.state.CompareAndSwap(int32(StateLoaded), int32(StateReady))
}

func (h *Handle) warmup() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warm-up panic: %v", r)
		}
	}()

	if w, ok := h.engine.(Warmer); ok {
		return w.Warmup()
	}

	switch h.capability {
	case capability.TTS:
		_, err = h.run(TTSRequest{Text: WarmupText})
	case capability.ASR:
		rate := h.engine.Info().SampleRate
		if rate == 0 {
			rate = audio.ASRSampleRate
		}
		_, err = h.run(ASRRequest{Audio: audio.NewPCMBuffer(make([]float32, rate), rate)})
	}
	return err
}

// Infer runs one request. Waiting for the guard is bounded by the configured
// timeout and by ctx; once the model call starts it runs to completion, since
// the runtimes offer no cooperative cancellation.
func (h *Handle) Infer(ctx context.Context, req Request) (Result, error) {
	if req == nil || req.Capability() != h.capability {
		return nil, fmt.Errorf("%w: %s handle", ErrWrongRequest, h.capability)
	}
	switch s := h.State(); s {
	case StateReady:
	case StateClosed:
		return nil, fmt.Errorf("%w: %s", ErrClosed, h.capability)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, h.capability, s)
	}

	release, err := h.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// Close may have won the race while we were queued.
	if h.State() == StateClosed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, h.capability)
	}
	return h.run(req)
}

func (h *Handle) run(req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &InferenceError{Capability: h.capability, Err: fmt.Errorf("engine panic: %v", r)}
		}
	}()

	switch r := req.(type) {
	case ASRRequest:
		t, ok := h.engine.(Transcriber)
		if !ok {
			return nil, fmt.Errorf("%w: engine %s cannot transcribe", ErrWrongRequest, h.engine.Info().Name)
		}
		if err := r.Audio.Validate(); err != nil {
			return nil, err
		}
		out, err := t.Transcribe(r.Audio, r.Language)
		if err != nil {
			return nil, &InferenceError{Capability: h.capability, Err: err}
		}
		return ASRResult{Transcript: out.Text, Confidence: out.Confidence}, nil

	case TTSRequest:
		s, ok := h.engine.(Synthesizer)
		if !ok {
			return nil, fmt.Errorf("%w: engine %s cannot synthesize", ErrWrongRequest, h.engine.Info().Name)
		}
		pcm, err := s.Synthesize(r.Text, SynthesisOptions{Voice: r.Voice, Speed: r.Speed})
		if err != nil {
			return nil, &InferenceError{Capability: h.capability, Err: err}
		}
		if err := pcm.Validate(); err != nil {
			return nil, &InferenceError{Capability: h.capability, Err: fmt.Errorf("no audio generated: %w", err)}
		}
		return TTSResult{Audio: pcm}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrWrongRequest, req)
}

type Status struct {
	Service    string   `json:"service"`
	Status     string   `json:"status"`
	State      string   `json:"state"`
	Backend    string   `json:"backend"`
	Engine     string   `json:"engine"`
	Device     string   `json:"device"`
	ModelDir   string   `json:"model_dir"`
	Compiled   bool     `json:"compiled"`
	Capacity   int      `json:"capacity"`
	InFlight   int      `json:"in_flight"`
	Waiting    int      `json:"waiting"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Voices     []string `json:"voices,omitempty"`
}

func (h *Handle) Status() Status {
	info := h.engine.Info()
	state := h.State()
	st := Status{
		Service:    string(h.capability),
		Status:     "not_ready",
		State:      state.String(),
		Backend:    h.cfg.Backend,
		Engine:     info.Name,
		Device:     h.cfg.Device,
		ModelDir:   h.cfg.ModelDir,
		Compiled:   h.Compiled(),
		Capacity:   h.guard.Capacity(),
		InFlight:   h.guard.InFlight(),
		Waiting:    h.guard.Waiting(),
		SampleRate: info.SampleRate,
		Languages:  info.Languages,
	}
	if state == StateReady {
		st.Status = "ready"
	}
	if s, ok := h.engine.(Synthesizer); ok {
		st.Voices = s.ListVoices()
	}
	return st
}

// Close stops new inferences, waits for in-flight ones (bounded by ctx) and
// then releases the model. If the wait times out the engine is left open.
func (h *Handle) Close(ctx context.Context) error {
	if State(h.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	if err := h.guard.Drain(ctx); err != nil {
		return fmt.Errorf("%s: waiting for in-flight inference: %w", h.capability, err)
	}
	if err := h.engine.Close(); err != nil {
		return fmt.Errorf("%s: %w", h.capability, err)
	}
	log.Info().Str("capability", string(h.capability)).Msg("Engine released")
	return nil
}
