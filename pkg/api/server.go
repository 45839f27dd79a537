package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// EngineInterface is the orchestrator surface the server needs,
// defined here to enable mocking
type EngineInterface interface {
	GetLatestUsage() []usage.ServiceUsage
	GetUsage(id usage.ServiceID) (usage.ServiceUsage, bool)
	ListServices() []usage.ServiceIdentity
	GetService(id usage.ServiceID) (adapter.Adapter, bool)
	RefreshAll(ctx context.Context)
	RefreshOne(ctx context.Context, id usage.ServiceID) (usage.ServiceUsage, error)
}

// Server encapsulates the HTTP API server
type Server struct {
	engine EngineInterface
	server *http.Server
}

// NewServer creates a new API server instance
func NewServer(eng EngineInterface, addr string) *Server {
	s := &Server{engine: eng}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/services", s.handleServices)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/usage/", s.handleUsageOne)
	mux.HandleFunc("/v1/refresh", s.handleRefresh)
	mux.HandleFunc("/v1/refresh/", s.handleRefreshOne)

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(withRecovery(withSecureHeaders(mux)))

	// Use default port if addr is empty
	if addr == "" {
		addr = "127.0.0.1:8440"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Handler exposes the middleware-wrapped handler for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	fmt.Printf(`{"level":"info","msg":"server_starting","addr":"%s"}`+"\n", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	fmt.Println(`{"level":"info","msg":"server_stopping"}`)
	return s.server.Shutdown(ctx)
}

// handleServices lists the registered services and availability
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	identities := s.engine.ListServices()
	infos := make([]ServiceInfo, 0, len(identities))
	for _, identity := range identities {
		available := false
		if a, ok := s.engine.GetService(identity.ID); ok {
			available = a.IsAvailable(r.Context())
		}
		infos = append(infos, ServiceInfo{
			ID:          identity.ID,
			DisplayName: identity.DisplayName,
			Available:   available,
		})
	}

	writeJSON(w, r, http.StatusOK, infos)
}

// handleUsage returns every cached record
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r, http.StatusOK, UsageResponse{Services: s.engine.GetLatestUsage()})
}

// handleUsageOne returns the cached record for one service
func (s *Server) handleUsageOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/usage/")
	if id == "" {
		http.Error(w, `{"error":"missing_service_id"}`, http.StatusBadRequest)
		return
	}

	record, ok := s.engine.GetUsage(usage.ServiceID(id))
	if !ok {
		http.Error(w, `{"error":"service_not_found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

// handleRefresh triggers a full refresh cycle and returns the result
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	s.engine.RefreshAll(r.Context())
	writeJSON(w, r, http.StatusOK, RefreshResponse{
		Status:   "refreshed",
		Services: s.engine.GetLatestUsage(),
	})
}

// handleRefreshOne refreshes a single service on demand
func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/refresh/")
	if id == "" {
		http.Error(w, `{"error":"missing_service_id"}`, http.StatusBadRequest)
		return
	}

	record, err := s.engine.RefreshOne(r.Context(), usage.ServiceID(id))
	if err != nil {
		http.Error(w, `{"error":"service_not_found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, RefreshResponse{
		Status:   "refreshed",
		Services: []usage.ServiceUsage{record},
	})
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Printf(`{"level":"error","msg":"panic_recovered","error":"%v","path":"%s"}`+"\n", err, r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		fmt.Printf(`{"level":"info","msg":"http_request","trace_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`+"\n",
			traceID, r.Method, r.URL.Path, ww.status, duration.Milliseconds())
	})
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback if random fails (unlikely)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
