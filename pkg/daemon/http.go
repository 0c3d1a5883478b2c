package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
)

// httpServer exposes /healthz and /metrics over plain HTTP, alongside the
// Unix-socket control plane, using chi the way the rest of the example
// pack's service surfaces do. An empty HealthAddr disables it; the Unix
// socket is always sufficient for a single-operator deployment.
type httpServer struct {
	daemon *Daemon
	srv    *http.Server
	ln     net.Listener
}

func newHTTPServer(d *Daemon) *httpServer {
	r := chi.NewRouter()
	h := &httpServer{daemon: d}
	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", metrics.Handler())
	h.srv = &http.Server{Handler: r}
	return h
}

// Start binds cfg.Protocol.HealthAddr, if set, and begins serving in the
// background. An empty address is a valid, deliberate no-op.
func (h *httpServer) Start() error {
	addr := h.daemon.cfg.Protocol.HealthAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.ln = ln
	go func() {
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithComponent("daemon").Warn().Err(err).Msg("health http server stopped")
		}
	}()
	return nil
}

func (h *httpServer) Stop(ctx context.Context) error {
	if h.ln == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(shutdownCtx)
}

type healthzResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	PID    int               `json:"pid"`
	Checks map[string]string `json:"checks"`
}

func (h *httpServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status, checks := h.daemon.runHealthChecks(r.Context())
	resp := healthzResponse{
		Status: status,
		Uptime: h.daemon.Uptime().String(),
		PID:    os.Getpid(),
		Checks: checks,
	}
	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
