// Package server owns process startup and shutdown. Engines are loaded and
// registered before the listener is bound, and released after it is closed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/config"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/httpapi"
	"voicegate/internal/pkg/voicegate/metrics"
)

type Server struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	version string

	ready    chan struct{}
	mu       sync.Mutex
	addr     net.Addr
	registry *capability.Registry[*engine.Handle]
}

type Option func(*Server)

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, version: "dev", ready: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Ready is closed once the listening socket is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Registry() *capability.Registry[*engine.Handle] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

// Run starts the gateway and blocks until ctx is cancelled or serving fails.
// Any load failure, or a compile failure under the strict policy, returns
// before the port is bound.
func (s *Server) Run(ctx context.Context) error {
	reg, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.release(reg)
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}

	api := httpapi.New(reg, s.metrics, httpapi.Options{
		MaxBodyBytes:  s.cfg.MaxBodyBytes,
		MaxTextLength: s.cfg.MaxTextLength,
		DefaultVoice:  s.cfg.DefaultVoice,
		Version:       s.version,
	})
	api.PublishEngineState()
	srv := &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.registry = reg
	s.mu.Unlock()
	close(s.ready)
	s.logStartup(reg, ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Dur("grace", s.cfg.ShutdownTimeout).Msg("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
			_ = srv.Close()
		}
		if err := reg.Close(sctx); err != nil {
			errs = append(errs, err)
		}
		api.PublishEngineState()
		if len(errs) == 0 {
			log.Info().Msg("Shutdown complete")
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

type service struct {
	name     capability.Name
	backend  string
	modelDir string
	poolSize int
}

func (s *Server) enabled() []service {
	var services []service
	if s.cfg.EnableASR {
		services = append(services, service{capability.ASR, s.cfg.ASRBackend, s.cfg.ASRModelDir, s.cfg.ASRPoolSize})
	}
	if s.cfg.EnableTTS {
		services = append(services, service{capability.TTS, s.cfg.TTSBackend, s.cfg.TTSModelDir, s.cfg.TTSPoolSize})
	}
	return services
}

// loadAll runs load, compile and register for every enabled capability and
// freezes the registry. On failure everything loaded so far is released.
func (s *Server) loadAll(ctx context.Context) (*capability.Registry[*engine.Handle], error) {
	services := s.enabled()
	if len(services) == 0 {
		return nil, fmt.Errorf("no capability enabled")
	}

	reg := capability.NewRegistry[*engine.Handle]()
	for _, svc := range services {
		log.Info().
			Str("capability", string(svc.name)).
			Str("backend", svc.backend).
			Str("model_dir", svc.modelDir).
			Msg("Loading engine...")

		h, err := engine.Load(ctx, svc.name, engine.LoadConfig{
			Backend:     svc.backend,
			ModelDir:    svc.modelDir,
			Device:      s.cfg.Device,
			PoolSize:    svc.poolSize,
			WaitTimeout: s.cfg.GuardTimeout,
			MaxQueue:    s.cfg.MaxQueue,
		})
		if err != nil {
			s.release(reg)
			return nil, err
		}

		if err := s.compile(ctx, h); err != nil {
			s.release(reg, h)
			return nil, err
		}

		if err := reg.Register(svc.name, h); err != nil {
			s.release(reg, h)
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

func (s *Server) compile(ctx context.Context, h *engine.Handle) error {
	if !s.cfg.Compile {
		h.SkipCompile()
		return nil
	}
	log.Info().Str("capability", string(h.Capability())).Msg("Compiling (warm-up)...")
	err := h.Compile(ctx)
	if err == nil {
		return nil
	}
	if s.cfg.CompilePolicy == config.PolicyDegrade {
		log.Warn().Err(err).Str("capability", string(h.Capability())).Msg("Warm-up failed, serving uncompiled")
		return nil
	}
	return err
}

// release closes handles that never made it into service.
func (s *Server) release(reg *capability.Registry[*engine.Handle], extra ...*engine.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	for _, h := range extra {
		if err := h.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to release engine")
		}
	}
	if err := reg.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to release engines")
	}
}

func (s *Server) logStartup(reg *capability.Registry[*engine.Handle], addr net.Addr) {
	base := "http://" + addr.String()
	for _, name := range reg.Names() {
		h, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		st := h.Status()
		ev := log.Info().
			Str("capability", string(name)).
			Str("backend", st.Backend).
			Str("device", st.Device).
			Bool("compiled", st.Compiled).
			Int("capacity", st.Capacity)
		switch name {
		case capability.ASR:
			ev.Str("endpoint", "POST "+base+"/asr")
		case capability.TTS:
			ev.Str("endpoint", "POST "+base+"/tts").Strs("voices", st.Voices)
		}
		ev.Msg("Capability ready")
	}
	log.Info().
		Str("addr", addr.String()).
		Str("health", base+"/health").
		Str("metrics", base+"/metrics").
		Str("version", s.version).
		Msg("Server listening")
}
