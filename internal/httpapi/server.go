// Package httpapi serves the optional localhost debug endpoint: health and
// readiness probes, Prometheus metrics, the routing table, the call journal
// and tool search. It is off unless a listen address is configured.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/observability"
	"notionfast-go/internal/router"
	"notionfast-go/internal/storage"
)

const readHeaderTimeout = 10 * time.Second

// Controller is the slice of the router the debug endpoint consumes.
type Controller interface {
	State() router.State
	Routes() map[string]router.RouteMode
	RefreshMetrics()
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// apiResponse is the standard wrapper for all JSON endpoints.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server is the chi-backed debug HTTP server.
type Server struct {
	controller    Controller
	journal       *storage.Journal
	logger        *zap.Logger
	router        *chi.Mux
	observability *observability.Manager
	httpServer    *http.Server
}

// NewServer wires the debug endpoint. journal and obs may be nil; the
// corresponding routes degrade or disappear.
func NewServer(controller Controller, journal *storage.Journal, logger *zap.Logger, obs *observability.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		controller:    controller,
		journal:       journal,
		logger:        logger,
		router:        chi.NewRouter(),
		observability: obs,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		s.router.Use(s.observability.HTTPMiddleware())
	}
	s.router.Use(s.requestLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	livenessHandler := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
	readinessHandler := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		state := s.controller.State()
		if state == router.StateReady || state == router.StateDegradedReadOnly {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ready":true}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ready":false}`))
	}

	if s.observability != nil {
		if health := s.observability.Health(); health != nil {
			s.router.Get("/healthz", health.HealthzHandler())
			s.router.Get("/readyz", health.ReadyzHandler())
		}
		if metrics := s.observability.Metrics(); metrics != nil {
			s.router.Handle("/metrics", s.withMetricsRefresh(metrics.Handler()))
		}
	} else {
		s.router.Get("/healthz", livenessHandler)
		s.router.Get("/readyz", readinessHandler)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", s.handleGetStatus)
		r.Get("/routes", s.handleGetRoutes)
		r.Get("/activity", s.handleListActivity)
		r.Get("/activity/{id}", s.handleGetActivityDetail)
		r.Get("/search", s.handleSearchTools)
	})
}

// withMetricsRefresh pushes fresh gauge values before each scrape.
func (s *Server) withMetricsRefresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.controller.RefreshMetrics()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			s.logger.Debug("Debug API request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", ww.statusCode),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// Start binds addr and serves in the background. Bind failures are returned
// synchronously so startup can abort with a useful error.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind debug listener on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("Debug server stopped", zap.Error(serveErr))
		}
	}()

	s.logger.Info("Debug server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, apiResponse{Success: false, Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

// callMeta runs one of the router's meta tools and unwraps the result into
// the response envelope, reusing the exact payloads MCP clients see.
func (s *Server) callMeta(w http.ResponseWriter, r *http.Request, toolName string, args map[string]interface{}, failStatus int) {
	result, err := s.controller.CallTool(r.Context(), toolName, args)
	if err != nil {
		s.logger.Error("Meta tool call failed", zap.String("tool", toolName), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	text, ok := backend.ResultText(result)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "meta tool returned no text content")
		return
	}
	if result.IsError {
		s.writeError(w, failStatus, text)
		return
	}
	s.writeSuccess(w, json.RawMessage(text))
}

// handleGetStatus handles GET /api/v1/status
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	s.callMeta(w, r, router.MetaStatusToolName, nil, http.StatusInternalServerError)
}

// routesResponse is the GET /api/v1/routes payload.
type routesResponse struct {
	State  string            `json:"state"`
	Routes map[string]string `json:"routes"`
}

// handleGetRoutes handles GET /api/v1/routes
func (s *Server) handleGetRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.controller.Routes()
	payload := routesResponse{
		State:  s.controller.State().String(),
		Routes: make(map[string]string, len(routes)),
	}
	for name, mode := range routes {
		payload.Routes[name] = mode.String()
	}
	s.writeSuccess(w, payload)
}

// handleSearchTools handles GET /api/v1/search?q=...&limit=...
func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	args := map[string]interface{}{"query": query}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		args["limit"] = float64(limit)
	}

	s.callMeta(w, r, router.MetaFindToolToolName, args, http.StatusServiceUnavailable)
}
