// Package httpapi implements the HTTP surface of spec.md §6: a thin
// JSON layer over internal/orchestrator.Service. Routing follows the
// teacher corpus's chi idiom (go-chi/chi/v5 appears in the
// kadirpekel-hector and jordigilh-kubernaut go.mods) rather than the
// teacher's own tree, which has no HTTP server to generalize from.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/internal/orchestrator"
)

// Server wires internal/orchestrator.Service onto a chi router.
type Server struct {
	orc *orchestrator.Service
	log zerolog.Logger
}

// NewServer constructs a Server. Call Router to obtain the http.Handler.
func NewServer(orc *orchestrator.Service, log zerolog.Logger) *Server {
	return &Server{orc: orc, log: log}
}

// Router builds the chi router implementing spec.md §6's HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Post("/start-batch", s.handleStartBatch)
		r.Get("/", s.handleList)
		r.Get("/active", s.handleListActive)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/start", s.handleStart)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			r.Post("/cancel", s.handleCancel)
			r.Post("/resolve-blocker", s.handleResolveBlocker)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
