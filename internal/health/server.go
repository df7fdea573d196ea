package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/infra/storage"
	"github.com/trungvv/ripcord/internal/metrics"
	"github.com/trungvv/ripcord/internal/queue"
	"github.com/trungvv/ripcord/internal/rotation"
)

// Server exposes health, metrics and the task API over HTTP.
type Server struct {
	httpSrv  *http.Server
	monitor  *Monitor
	recovery *RecoveryManager
	orch     *queue.Orchestrator
	pools    *rotation.Manager
	archive  storage.TaskArchive
	log      *slog.Logger
}

// NewServer wires the routes. agg may be nil to disable /metrics.
func NewServer(addr string, monitor *Monitor, recovery *RecoveryManager, orch *queue.Orchestrator, pools *rotation.Manager, archive storage.TaskArchive, agg *metrics.Aggregator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		monitor:  monitor,
		recovery: recovery,
		orch:     orch,
		pools:    pools,
		archive:  archive,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("POST /tasks", s.handleSubmit)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleCancel)
	if agg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(agg.Registry(), promhttp.HandlerOpts{}))
	}

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.log.Info("status server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report()
	code := http.StatusOK
	if report.Status == StatusCritical || report.Status == StatusError {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": report.Status,
		"at":     report.At,
	})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report()
	payload := map[string]any{
		"status":     report.Status,
		"at":         report.At,
		"subsystems": report.Subsystems,
		"queue":      s.orch.Stats(),
		"pools":      s.pools.Stats(),
	}
	if s.recovery != nil {
		payload["degraded"] = s.recovery.Degraded()
		if history, err := s.recovery.History(r.Context(), 20); err == nil {
			payload["recent_recovery"] = history
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type submitRequest struct {
	URL      string `json:"url"`
	Quality  string `json:"quality"`
	Format   string `json:"format"`
	Priority string `json:"priority"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	id := s.orch.Submit(req.URL, domain.TaskOptions{
		Quality:  req.Quality,
		Format:   req.Format,
		Priority: domain.Priority(req.Priority),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"active": s.orch.Active(),
		"stats":  s.orch.Stats(),
	}
	if s.archive != nil {
		if recent, err := s.archive.Recent(r.Context(), 50); err == nil {
			payload["recent"] = recent
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.orch.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orch.Cancel(id) {
		writeError(w, http.StatusNotFound, "task not found or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
