package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
)

type ttsRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Speed  float32 `json:"speed,omitempty"`
	Format string  `json:"format,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st := stateFrom(r.Context())
	st.capability = capability.TTS

	h, err := s.registry.Lookup(capability.TTS)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	req, err := s.readTTSRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format, err := s.validateTTS(h, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st.stage = StageValidated

	res, err := s.infer(r.Context(), h, engine.TTSRequest{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, ok := res.(engine.TTSResult)
	if !ok {
		s.fail(w, r, fmt.Errorf("unexpected result %T from TTS handle", res))
		return
	}

	out := audio.OutputFormat(result.Audio, format)
	body, err := audio.Encode(result.Audio, out)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	st.stage = StageCompleted
	ext := "wav"
	if out.Kind == audio.KindPCM {
		ext = "pcm"
	}
	w.Header().Set("Content-Type", out.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="tts_%s.%s"`, st.id, ext))
	w.Header().Set("X-Processing-Time", strconv.FormatFloat(time.Since(start).Seconds(), 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readTTSRequest accepts a JSON body or form fields. ?format= overrides the
// body's format.
func (s *Server) readTTSRequest(w http.ResponseWriter, r *http.Request) (ttsRequest, error) {
	var req ttsRequest
	if r.ContentLength > s.opts.MaxBodyBytes {
		return req, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, r.ContentLength, s.opts.MaxBodyBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(s.opts.MaxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return req, bodyError(err)
		}
		req.Text = r.FormValue("text")
		req.Voice = r.FormValue("voice")
		req.Format = r.FormValue("format")
		if v := r.FormValue("speed"); v != "" {
			speed, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return req, fmt.Errorf("%w: speed %q is not a number", ErrValidation, v)
			}
			req.Speed = float32(speed)
		}
	default:
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return req, bodyError(err)
			}
			return req, fmt.Errorf("%w: body must be JSON {\"text\": ...}: %v", ErrValidation, err)
		}
	}

	if f := strings.TrimSpace(r.URL.Query().Get("format")); f != "" {
		req.Format = f
	}
	return req, nil
}

func (s *Server) validateTTS(h *engine.Handle, req *ttsRequest) (audio.Format, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return audio.Format{}, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if n := utf8.RuneCountInString(req.Text); n > s.opts.MaxTextLength {
		return audio.Format{}, fmt.Errorf("%w: text is %d characters, limit is %d", ErrValidation, n, s.opts.MaxTextLength)
	}
	if math.IsNaN(float64(req.Speed)) || (req.Speed != 0 && (req.Speed < engine.MinSpeed || req.Speed > engine.MaxSpeed)) {
		return audio.Format{}, fmt.Errorf("%w: speed must be between %.1f and %.1f", ErrValidation, engine.MinSpeed, engine.MaxSpeed)
	}

	if req.Voice == "" {
		req.Voice = s.opts.DefaultVoice
	}
	if req.Voice != "" {
		if synth, ok := h.Engine().(engine.Synthesizer); ok {
			if voices := synth.ListVoices(); len(voices) > 0 && !slices.Contains(voices, req.Voice) {
				return audio.Format{}, fmt.Errorf("%w: unknown voice %q", ErrValidation, req.Voice)
			}
		}
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return audio.Format{}, err
	}
	if format.Kind == audio.KindMP3 {
		return audio.Format{}, fmt.Errorf("%w: mp3 output is not supported, use wav or pcm", audio.ErrUnsupportedFormat)
	}
	return format, nil
}
