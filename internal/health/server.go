package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	server *http.Server
}

// NewServer serves liveness on /health, store readiness on /ready and
// Prometheus metrics on /metrics. store may be nil.
func NewServer(addr string, store Pinger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           newRouter(store),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func newRouter(store Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				slog.Warn("Readiness check failed", "error", err)
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) Start() error {
	slog.Info("Health HTTP server started", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
