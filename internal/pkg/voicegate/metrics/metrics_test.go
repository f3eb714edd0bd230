package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PrivateRegistry(t *testing.T) {
	t.Parallel()

	// Two instances must not collide.
	a := New(nil)
	b := New(nil)

	a.Requests.WithLabelValues("tts", "completed", "200").Inc()
	a.ObserveInference("tts", 300*time.Millisecond)
	b.BusyRejections.WithLabelValues("asr").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Requests.WithLabelValues("tts", "completed", "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Requests.WithLabelValues("tts", "completed", "200")))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `voicegate_requests_total{capability="tts",code="200",stage="completed"} 1`)
	assert.Contains(t, string(body), "voicegate_inference_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_ExternalRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.EngineState.WithLabelValues("asr", "ctc", "true").Set(1)

	n, err := testutil.GatherAndCount(reg, "voicegate_engine_ready")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
