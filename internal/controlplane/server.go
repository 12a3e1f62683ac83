package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/pocketd/internal/models"
)

// Server provides the HTTP API for pocketd.
type Server struct {
	service  *Service
	addr     string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new HTTP server. gatherer may be nil to disable
// /metrics.
func NewServer(service *Service, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:  service,
		addr:     addr,
		gatherer: gatherer,
		logger:   logger.With("component", "http"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Lock and interactive control
	r.HandleFunc("/lock", s.getLock).Methods(http.MethodGet)
	r.HandleFunc("/lock/release", s.releaseLock).Methods(http.MethodPost)
	r.HandleFunc("/command", s.runCommand).Methods(http.MethodPost)
	r.HandleFunc("/device", s.getDevice).Methods(http.MethodGet)

	// Notification pipeline
	r.HandleFunc("/notifications/status", s.notificationStatus).Methods(http.MethodGet)
	r.HandleFunc("/notifications/start", s.startNotifications).Methods(http.MethodPost)
	r.HandleFunc("/notifications/stop", s.stopNotifications).Methods(http.MethodPost)
	r.HandleFunc("/notifications/log", s.notificationLog).Methods(http.MethodGet)
	r.HandleFunc("/notifications/current", s.currentNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/whitelist", s.getWhitelist).Methods(http.MethodGet)
	r.HandleFunc("/notifications/whitelist", s.addWhitelist).Methods(http.MethodPost)
	r.HandleFunc("/notifications/whitelist", s.setWhitelist).Methods(http.MethodPut)
	r.HandleFunc("/notifications/whitelist/{package}", s.removeWhitelist).Methods(http.MethodDelete)

	// Scheduled tasks
	r.HandleFunc("/schedules", s.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules", s.createSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}", s.getSchedule).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{id}", s.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{id}/enable", s.enableSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}/disable", s.disableSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}/run", s.runSchedule).Methods(http.MethodPost)

	r.HandleFunc("/scheduler/start", s.startScheduler).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/stop", s.stopScheduler).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/status", s.schedulerStatus).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/log", s.schedulerLog).Methods(http.MethodGet)

	r.HandleFunc("/audit", s.getAudit).Methods(http.MethodGet)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// /command and /schedules/{id}/run block for a whole agent run.
		WriteTimeout: 10 * time.Minute,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.service.Health(r.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// --- Lock Handlers ---

func (s *Server) getLock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LockState())
}

type releaseResponse struct {
	Released bool             `json:"released"`
	Previous models.LockState `json:"previous"`
}

func (s *Server) releaseLock(w http.ResponseWriter, r *http.Request) {
	prev := s.service.ReleaseLock()
	writeJSON(w, http.StatusOK, releaseResponse{Released: prev.Locked, Previous: prev})
}

type commandRequest struct {
	Prompt string `json:"prompt"`
}

type commandResponse struct {
	Result string `json:"result"`
	Turns  int    `json:"turns"`
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.service.RunCommand(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Result: result.Text, Turns: result.Turns})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.DeviceInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// --- Notification Handlers ---

func (s *Server) notificationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.NotificationStatus())
}

func (s *Server) startNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.StartNotifications())
}

func (s *Server) stopNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.StopNotifications())
}

func (s *Server) notificationLog(w http.ResponseWriter, r *http.Request) {
	entries := s.service.NotificationLog()
	if entries == nil {
		entries = []models.TriageLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) currentNotifications(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.CurrentNotifications(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.NotificationEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type whitelistRequest struct {
	Package  string   `json:"package"`
	Packages []string `json:"packages"`
}

type whitelistResponse struct {
	Packages []string `json:"packages"`
}

func (s *Server) getWhitelist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, whitelistResponse{Packages: nonNil(s.service.Whitelist())})
}

func (s *Server) addWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := s.service.AddToWhitelist(req.Package)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, whitelistResponse{Packages: nonNil(list)})
}

func (s *Server) setWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := s.service.SetWhitelist(req.Packages)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, whitelistResponse{Packages: nonNil(list)})
}

func (s *Server) removeWhitelist(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.RemoveFromWhitelist(mux.Vars(r)["package"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, whitelistResponse{Packages: nonNil(list)})
}

// --- Schedule Handlers ---

type createScheduleRequest struct {
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	CronExpression string `json:"cron_expression"`
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	tasks := s.service.ListTasks()
	if tasks == nil {
		tasks = []models.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.service.AddTask(req.Name, req.Prompt, req.CronExpression)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.service.RemoveTask(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
}

func (s *Server) enableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

func (s *Server) disableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	task, err := s.service.SetTaskEnabled(mux.Vars(r)["id"], enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) runSchedule(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.RunTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.StartScheduler()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) stopScheduler(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.StopScheduler()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.SchedulerStatus())
}

func (s *Server) schedulerLog(w http.ResponseWriter, r *http.Request) {
	entries := s.service.SchedulerLog()
	if entries == nil {
		entries = []models.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Audit ---

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalidRequest))
			return
		}
		limit = n
	}
	entries, err := s.service.Audit(r.URL.Query().Get("action"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
