// Package metrics exposes the Prometheus scrape endpoint and a basic
// health probe.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"fx_trader/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the trading pipeline is healthy. A nil func
// means always healthy.
type HealthFunc func() bool

// Server serves /metrics for Prometheus scrapes and /healthz for probes.
type Server struct {
	port    int
	logger  core.ILogger
	healthy HealthFunc
	srv     *http.Server
}

// NewServer creates the observability endpoint on the given port.
func NewServer(port int, healthy HealthFunc, logger core.ILogger) *Server {
	return &Server{
		port:    port,
		logger:  logger.WithField("component", "metrics_server"),
		healthy: healthy,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.healthy != nil && !s.healthy() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
