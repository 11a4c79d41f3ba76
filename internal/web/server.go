package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/statcode-ai/toolguard/internal/consts"
	"github.com/statcode-ai/toolguard/internal/logger"
	"github.com/statcode-ai/toolguard/internal/telemetry"
	"github.com/statcode-ai/toolguard/internal/timeout"
)

// Server exposes the timeout manager's read accessors over HTTP for
// debugging and observability.
type Server struct {
	addr       string
	manager    *timeout.Manager
	store      *telemetry.SQLiteStore
	router     *httprouter.Router
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates a status server. store may be nil when telemetry
// persistence is disabled.
func NewServer(addr string, manager *timeout.Manager, store *telemetry.SQLiteStore) *Server {
	s := &Server{
		addr:    addr,
		manager: manager,
		store:   store,
		router:  httprouter.New(),
		log:     logger.Global().WithPrefix("web"),
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/operations", s.handleOperations)
	s.router.GET("/api/timeouts", s.handleTimeouts)
	s.router.POST("/api/operations/:tool/cancel", s.handleCancel)

	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
	}

	go func() {
		s.log.Info("status server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleTimeouts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := map[string]interface{}{
		"last_timeout": s.manager.LastTimeoutEvent(),
		"recent":       s.manager.RecentTimeoutEvents(),
	}

	if s.store != nil {
		records, err := s.store.Recent(50)
		if err != nil {
			s.log.Error("failed to read persisted timeouts: %v", err)
		} else {
			resp["persisted"] = records
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	toolName := ps.ByName("tool")
	taskID := r.URL.Query().Get("task_id")

	cancelled := s.manager.CancelOperation(toolName, taskID)
	status := http.StatusOK
	if !cancelled {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]interface{}{
		"tool":      toolName,
		"task_id":   taskID,
		"cancelled": cancelled,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Fprintf(w, `{"error": %q}`, err.Error())
	}
}
