// Package httpapi is the request router: it validates requests, dispatches
// them to the engine handle of the right capability and maps failures to
// structured responses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/metrics"
)

const (
	DefaultMaxBodyBytes  = 25 << 20
	DefaultMaxTextLength = 2000
)

type Options struct {
	MaxBodyBytes  int64
	MaxTextLength int
	DefaultVoice  string
	Version       string
}

type Server struct {
	registry *capability.Registry[*engine.Handle]
	metrics  *metrics.Metrics
	opts     Options
}

func New(registry *capability.Registry[*engine.Handle], m *metrics.Metrics, opts Options) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{registry: registry, metrics: m, opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(requestContext)
	r.Use(hlog.AccessHandler(s.accessLog))
	r.Use(cors)
	r.Use(s.recoverer)

	r.Post("/asr", s.handleASR)
	r.Get("/asr/status", s.handleStatus(capability.ASR))
	r.Post("/tts", s.handleTTS)
	r.Post("/tts/create", s.handleTTS)
	r.Get("/tts/status", s.handleStatus(capability.TTS))

	r.Get("/health", s.handleHealth)
	r.Get("/api-info", s.handleAPIInfo)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	return r
}

// PublishEngineState exports the ready gauge for every registered handle.
func (s *Server) PublishEngineState() {
	for _, name := range s.registry.Names() {
		h, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		st := h.Status()
		ready := 0.0
		if st.Status == "ready" {
			ready = 1
		}
		compiled := "false"
		if st.Compiled {
			compiled = "true"
		}
		s.metrics.EngineState.WithLabelValues(string(name), st.Backend, compiled).Set(ready)
	}
}

func (s *Server) handleStatus(c capability.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := s.registry.Lookup(c)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, h.Status())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	services := make(map[string]string)
	for _, name := range s.registry.Names() {
		if h, err := s.registry.Lookup(name); err == nil {
			services[string(name)] = h.Status().Status
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, _ *http.Request) {
	endpoints := []endpoint{
		{http.MethodGet, "/health", "Service health"},
		{http.MethodGet, "/api-info", "This document"},
		{http.MethodGet, "/metrics", "Prometheus metrics"},
	}
	if s.registry.Enabled(capability.ASR) {
		endpoints = append(endpoints,
			endpoint{http.MethodPost, "/asr", "Transcribe audio (wav, mp3 or audio/L16 body, or multipart field file)"},
			endpoint{http.MethodGet, "/asr/status", "ASR engine status"},
		)
	}
	if s.registry.Enabled(capability.TTS) {
		endpoints = append(endpoints,
			endpoint{http.MethodPost, "/tts", "Synthesize speech from JSON {text, voice, speed, format}"},
			endpoint{http.MethodPost, "/tts/create", "Alias of /tts"},
			endpoint{http.MethodGet, "/tts/status", "TTS engine status"},
		)
	}

	enabled := make([]string, 0, 2)
	for _, name := range s.registry.Names() {
		enabled = append(enabled, string(name))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service":      "voicegate",
		"version":      s.opts.Version,
		"capabilities": enabled,
		"endpoints":    endpoints,
	})
}

// infer dispatches to the handle and records latency and busy rejections.
func (s *Server) infer(ctx context.Context, h *engine.Handle, req engine.Request) (engine.Result, error) {
	stateFrom(ctx).stage = StageDispatched
	c := string(h.Capability())
	s.metrics.InFlight.WithLabelValues(c).Inc()
	defer s.metrics.InFlight.WithLabelValues(c).Dec()

	start := time.Now()
	res, err := h.Infer(ctx, req)
	if errors.Is(err, engine.ErrBusy) {
		s.metrics.BusyRejections.WithLabelValues(c).Inc()
		return nil, err
	}
	s.metrics.ObserveInference(c, time.Since(start))
	return res, err
}

// fail rejects the request. Client-visible kinds are logged at warn; the
// rest are internal and logged at error with the full chain.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	st := stateFrom(r.Context())
	st.stage = StageRejected

	status, code, message := classify(err)
	logger := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError && code == codeInternal {
		logger.Error().Err(err).Str("capability", string(st.capability)).Msg("Request failed")
	} else {
		logger.Warn().Err(err).Str("code", code).Str("capability", string(st.capability)).Msg("Request rejected")
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, status, errorResponse{Error: message, Code: code, RequestID: st.id})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
