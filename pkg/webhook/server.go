// Package webhook serves the driver's pod mutation webhook together with health and metrics endpoints.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
)

// MutatePath is the URL path the MutatingWebhookConfiguration points at.
const MutatePath = "/mutate"

// Config configures the webhook server.
type Config struct {
	// Handler handles pod admission reviews.
	Handler admission.Handler
	// Log is the logger for the server.
	Log logr.Logger
	// Host is the address to bind to. Defaults to "" (all interfaces).
	Host string
	// Port is the port to listen on. Defaults to 8888.
	Port int
	// CertDir is the directory containing tls.crt and tls.key files.
	CertDir string
	// CertName is the name of the TLS certificate file. Defaults to "tls.crt".
	CertName string
	// KeyName is the name of the TLS key file. Defaults to "tls.key".
	KeyName string
	// HealthProbeBindAddress is the address for health probes and metrics. Defaults to ":8081".
	HealthProbeBindAddress string
	// Gatherer is exposed on /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the driver's admission webhook server.
type Server struct {
	config        Config
	webhookServer webhook.Server
	healthServer  *http.Server
	log           logr.Logger
}

// NewServer creates a new webhook Server.
func NewServer(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = simkubev1.DefaultDriverAdmissionPort
	}
	if cfg.CertName == "" {
		cfg.CertName = "tls.crt"
	}
	if cfg.KeyName == "" {
		cfg.KeyName = "tls.key"
	}
	if cfg.HealthProbeBindAddress == "" {
		cfg.HealthProbeBindAddress = ":8081"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	opts := webhook.Options{
		Host:     cfg.Host,
		Port:     cfg.Port,
		CertDir:  cfg.CertDir,
		CertName: cfg.CertName,
		KeyName:  cfg.KeyName,
	}

	return &Server{
		config:        cfg,
		webhookServer: webhook.NewServer(opts),
		log:           cfg.Log.WithName("webhook-server"),
	}
}

// Register registers the admission handler with the webhook server.
func (s *Server) Register() {
	s.webhookServer.Register(MutatePath, &webhook.Admission{Handler: s.config.Handler, RecoverPanic: ptr.To(true)})
	s.log.Info("registered pod mutation webhook", "path", MutatePath)
}

// HealthHandler returns the mux served on the health probe address.
func (s *Server) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
	mux.HandleFunc("/healthz", ok)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.webhookServer.StartedChecker()(r); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		ok(w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start starts the webhook server and the health server. It blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.healthServer = &http.Server{
		Addr:              s.config.HealthProbeBindAddress,
		Handler:           s.HealthHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("starting health server", "addr", s.config.HealthProbeBindAddress)
		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "health server failed")
		}
	}()

	s.log.Info("starting webhook server", "host", s.config.Host, "port", s.config.Port)
	return s.webhookServer.Start(ctx)
}

// WaitStarted blocks until the webhook server accepts connections or ctx is done.
func (s *Server) WaitStarted(ctx context.Context) error {
	checker := s.webhookServer.StartedChecker()
	return wait.PollUntilContextCancel(ctx, 100*time.Millisecond, true, func(context.Context) (bool, error) {
		return checker(nil) == nil, nil
	})
}

// Shutdown gracefully shuts down the health server. The webhook server stops with its context.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.healthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("health server shutdown failed: %w", err)
		}
	}
	return nil
}
