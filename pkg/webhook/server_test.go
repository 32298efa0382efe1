package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/simkube-io/simkube/pkg/metrics"
)

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(Config{Log: testr.New(t)})
	assert.Equal(t, 8888, s.config.Port)
	assert.Equal(t, "tls.crt", s.config.CertName)
	assert.Equal(t, "tls.key", s.config.KeyName)
	assert.Equal(t, ":8081", s.config.HealthProbeBindAddress)
	assert.NotNil(t, s.config.Gatherer)
}

func TestHealthHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors()
	require.NoError(t, collectors.Register(reg))
	collectors.RecordAdmission(metrics.OutcomeMutated)

	handler := admission.HandlerFunc(func(context.Context, admission.Request) admission.Response {
		return admission.Allowed("")
	})
	s := NewServer(Config{Handler: handler, Log: testr.New(t), Gatherer: reg})
	s.Register()
	mux := s.HealthHandler()

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/healthz", wantCode: http.StatusOK, contains: "ok"},
		{path: "/readyz", wantCode: http.StatusServiceUnavailable},
		{path: "/metrics", wantCode: http.StatusOK, contains: `simkube_admission_reviews_total{outcome="mutated"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestWaitStarted_NotStarted(t *testing.T) {
	s := NewServer(Config{Log: testr.New(t)})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.Error(t, s.WaitStarted(ctx))
}
