package api

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/odvcencio/taskhub/internal/auth"
	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/service"
)

type Server struct {
	db      database.DB
	authSvc *auth.Service
	syncSvc *service.SyncService
	mux     *http.ServeMux
	handler http.Handler
}

func NewServer(db database.DB, authSvc *auth.Service, syncSvc *service.SyncService) *Server {
	s := &Server{
		db:      db,
		authSvc: authSvc,
		syncSvc: syncSvc,
		mux:     http.NewServeMux(),
	}
	s.routes()

	var handler http.Handler = s.mux
	handler = auth.Middleware(s.authSvc)(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = requestTracingMiddleware(handler)
	handler = requestMetricsMiddleware(getDefaultHTTPMetrics(), handler)
	handler = requestBodyLimitMiddleware(handler)
	handler = requestLoggingMiddleware(handler)
	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Auth
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	// Projects
	s.mux.HandleFunc("GET /api/v1/projects", s.requireAuth(s.handleListProjects))
	s.mux.HandleFunc("POST /api/v1/projects", s.requireAuth(s.handleCreateProject))
	s.mux.HandleFunc("GET /api/v1/projects/{id}", s.requireAuth(s.handleGetProject))
	s.mux.HandleFunc("PUT /api/v1/projects/{id}", s.requireAuth(s.handleUpdateProject))
	s.mux.HandleFunc("DELETE /api/v1/projects/{id}", s.requireAuth(s.handleDeleteProject))
	s.mux.HandleFunc("GET /api/v1/projects/{id}/stats", s.requireAuth(s.handleProjectStats))

	// Tasks
	s.mux.HandleFunc("GET /api/v1/projects/{id}/tasks", s.requireAuth(s.handleListProjectTasks))
	s.mux.HandleFunc("POST /api/v1/projects/{id}/tasks", s.requireAuth(s.handleCreateTask))
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.requireAuth(s.handleGetTask))
	s.mux.HandleFunc("PUT /api/v1/tasks/{id}", s.requireAuth(s.handleUpdateTask))
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.requireAuth(s.handleDeleteTask))
	s.mux.HandleFunc("PUT /api/v1/tasks/{id}/status", s.requireAuth(s.handleUpdateTaskStatus))

	// Ops
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metricsHandler(nil))
}

func (s *Server) requireAuth(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.GetClaims(r.Context()) == nil {
			jsonError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}
