// Package httpapi implements the HTTP surface over the execution
// service, using the stdlib method-pattern ServeMux and a
// per-Server-struct handler convention.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/qen-labs/execserv/internal/monitor"
	"github.com/qen-labs/execserv/internal/result"
	"github.com/qen-labs/execserv/internal/service"
)

// Server wires the execution façade, result processor and monitoring
// service behind the HTTP surface.
type Server struct {
	svc       *service.Service
	processor *result.Processor
	mon       *monitor.Service
	validate  *validator.Validate
	throttle  *throttler
	logger    *zap.Logger

	httpServer *http.Server
}

// New builds a Server listening at addr.
func New(addr string, svc *service.Service, processor *result.Processor, mon *monitor.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:       svc,
		processor: processor,
		mon:       mon,
		validate:  validator.New(),
		throttle:  newThrottler(defaultThrottleConfig()),
		logger:    logger.Named("httpapi"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /executions/health", s.handleLiveness)

	auth := func(h http.HandlerFunc) http.HandlerFunc { return withUser(s.throttle.middleware(h)) }

	mux.HandleFunc("POST /executions/test-case", auth(s.handleStartTestCase))
	mux.HandleFunc("POST /executions/test-suite", auth(s.handleStartTestSuite))
	mux.HandleFunc("GET /executions", auth(s.handleList))
	mux.HandleFunc("GET /executions/queue/status", auth(s.handleQueueStatus))
	mux.HandleFunc("POST /executions/queue/pause", auth(s.handleQueuePause))
	mux.HandleFunc("POST /executions/queue/resume", auth(s.handleQueueResume))
	mux.HandleFunc("GET /executions/analytics", auth(s.handleAnalytics))
	mux.HandleFunc("GET /executions/trends", auth(s.handleTrends))
	mux.HandleFunc("GET /executions/statistics", auth(s.handleStatistics))
	mux.HandleFunc("GET /executions/system/health", auth(s.handleSystemHealth))
	mux.HandleFunc("GET /executions/{id}", auth(s.handleGet))
	mux.HandleFunc("PATCH /executions/{id}/status", auth(s.handleUpdateStatus))
	mux.HandleFunc("GET /executions/{id}/progress", auth(s.handleProgress))
	mux.HandleFunc("GET /executions/{id}/stream", auth(s.handleStream))
	mux.HandleFunc("GET /executions/{id}/report", auth(s.handleReport))
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown causes
// it to return http.ErrServerClosed.
func (s *Server) ListenAndServe() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }
