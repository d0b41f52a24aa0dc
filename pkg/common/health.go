package common

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahrav/caseflow/pkg/common/logger"
)

// HealthServer exposes liveness and readiness probes for a node, plus the
// statsviz runtime dashboard under /debug/statsviz.
type HealthServer struct {
	mux    *http.ServeMux
	server *http.Server
	log    *logger.Logger
}

// NewHealthServer builds the probe server. Readiness reports 503 until ready
// is set to true.
func NewHealthServer(addr string, ready *atomic.Bool, log *logger.Logger) (*HealthServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := statsviz.Register(mux); err != nil {
		return nil, err
	}

	return &HealthServer{
		mux:    mux,
		server: &http.Server{
			Addr:              addr,
			Handler:           otelhttp.NewHandler(mux, "health_server"),
			ReadHeaderTimeout: 5 * time.Second,
			ErrorLog:          logger.NewStdLogger(log, logger.LevelError),
		},
		log: log.With("component", "health_server"),
	}, nil
}

// Handle registers an extra route on the server's mux. It must be called
// before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) { h.mux.Handle(pattern, handler) }

// Server returns the underlying http.Server.
func (h *HealthServer) Server() *http.Server { return h.server }

// Handler returns the instrumented handler, mainly for tests.
func (h *HealthServer) Handler() http.Handler { return h.server.Handler }

// Start serves in the background until Shutdown is called.
func (h *HealthServer) Start(ctx context.Context) {
	go func() {
		h.log.Info(ctx, "Health server listening", "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error(ctx, "Health server stopped", "error", err)
		}
	}()
}
