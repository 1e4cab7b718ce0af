package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/bootstrap"
)

const readyTimeout = 2 * time.Second

// Reporter reports one page's supervisor status
type Reporter interface {
	Status() bootstrap.Status
}

// ReadyChecker reports whether the classifier can take requests
type ReadyChecker interface {
	Ready(ctx context.Context) bool
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	ClassifierReady bool               `json:"classifier_ready"`
	Pages           []bootstrap.Status `json:"pages"`
}

// Server serves liveness, pipeline status and Prometheus metrics
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// New creates the status server
func New(addr string, pages []Reporter, classifier ReadyChecker, logger *zap.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Router(pages, classifier),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Router builds the HTTP routes
func Router(pages []Reporter, classifier ReadyChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
		defer cancel()

		resp := StatusResponse{
			ClassifierReady: classifier != nil && classifier.Ready(ctx),
			Pages:           make([]bootstrap.Status, 0, len(pages)),
		}
		for _, p := range pages {
			resp.Pages = append(resp.Pages, p.Status())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info("Status server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server...")
	return s.server.Shutdown(ctx)
}
