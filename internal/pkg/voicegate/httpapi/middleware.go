package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"voicegate/internal/pkg/voicegate/capability"
)

type Stage string

const (
	StageReceived   Stage = "received"
	StageValidated  Stage = "validated"
	StageDispatched Stage = "dispatched"
	StageCompleted  Stage = "completed"
	StageRejected   Stage = "rejected"
)

const maxRequestIDLength = 64

// requestState follows one request through the router. It is only touched
// by the goroutine serving the request.
type requestState struct {
	id         string
	capability capability.Name
	stage      Stage
}

type stateKey struct{}

func stateFrom(ctx context.Context) *requestState {
	if st, ok := ctx.Value(stateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{stage: StageReceived}
}

func newRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" || len(id) > maxRequestIDLength {
		id = uuid.NewString()[:8]
	}
	return id
}

// requestContext assigns the request id, echoes it back and tags the
// request logger with it.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &requestState{id: newRequestID(r), stage: StageReceived}
		w.Header().Set("X-Request-ID", st.id)

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", st.id)
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), stateKey{}, st)))
	})
}

func (s *Server) accessLog(r *http.Request, status, size int, d time.Duration) {
	st := stateFrom(r.Context())
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Str("remote", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Str("capability", string(st.capability)).
		Str("stage", string(st.stage)).
		Msg("Request")

	if st.capability != "" {
		s.metrics.Requests.WithLabelValues(string(st.capability), string(st.stage), strconv.Itoa(status)).Inc()
	}
}

// recoverer answers a handler panic with an internal_error body carrying
// the request id.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")
			s.fail(w, r, fmt.Errorf("panic: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Accept,X-Requested-With,X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition,X-Request-ID,X-Processing-Time")

		if r.Method == http.MethodOptions {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
