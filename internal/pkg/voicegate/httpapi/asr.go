package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
)

type asrResponse struct {
	Transcript  string   `json:"transcript"`
	Confidence  *float32 `json:"confidence,omitempty"`
	DurationSec float64  `json:"duration_sec"`
	RequestID   string   `json:"request_id"`
}

// multipartFields are tried in order for uploaded audio.
var multipartFields = []string{"file", "audio"}

func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r.Context())
	st.capability = capability.ASR

	h, err := s.registry.Lookup(capability.ASR)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	raw, hint, err := s.readAudio(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format, err := audio.ParseFormat(hint)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st.stage = StageValidated

	rate := h.Engine().Info().SampleRate
	if rate == 0 {
		rate = audio.ASRSampleRate
	}
	pcm, err := audio.DecodeTo(raw, format, rate)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.infer(r.Context(), h, engine.ASRRequest{
		Audio:    pcm,
		Language: strings.TrimSpace(r.URL.Query().Get("language")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, ok := res.(engine.ASRResult)
	if !ok {
		s.fail(w, r, fmt.Errorf("unexpected result %T from ASR handle", res))
		return
	}

	st.stage = StageCompleted
	respondJSON(w, http.StatusOK, asrResponse{
		Transcript:  result.Transcript,
		Confidence:  result.Confidence,
		DurationSec: pcm.Duration(),
		RequestID:   st.id,
	})
}

// readAudio returns the uploaded bytes and a format hint. The hint comes from
// ?format= first, then the part or body Content-Type, then the file name.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	if r.ContentLength > s.opts.MaxBodyBytes {
		return nil, "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, r.ContentLength, s.opts.MaxBodyBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	hint := strings.TrimSpace(r.URL.Query().Get("format"))
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.opts.MaxBodyBytes); err != nil {
			return nil, "", bodyError(err)
		}
		for _, field := range multipartFields {
			f, header, err := r.FormFile(field)
			if err != nil {
				continue
			}
			defer f.Close()

			raw, err := io.ReadAll(f)
			if err != nil {
				return nil, "", bodyError(err)
			}
			if hint == "" {
				hint = header.Header.Get("Content-Type")
			}
			if hint == "" || hint == "application/octet-stream" {
				hint = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
			}
			return nonEmpty(raw, hint)
		}
		return nil, "", fmt.Errorf("%w: multipart upload needs a %q or %q field", ErrValidation, multipartFields[0], multipartFields[1])
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", bodyError(err)
	}
	if hint == "" {
		hint = r.Header.Get("Content-Type")
	}
	return nonEmpty(raw, hint)
}

func nonEmpty(raw []byte, hint string) ([]byte, string, error) {
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: no audio data", ErrValidation)
	}
	return raw, hint, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: reading body: %v", ErrValidation, err)
}
