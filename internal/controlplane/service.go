// Package controlplane provides the HTTP API and service layer for pocketd.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pocketd/internal/agent"
	"github.com/fentz26/pocketd/internal/audit"
	"github.com/fentz26/pocketd/internal/cron"
	"github.com/fentz26/pocketd/internal/devicelock"
	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/notifications"
	"github.com/fentz26/pocketd/internal/scheduler"
)

// Version is stamped at build time.
var Version = "dev"

// DeviceReader reports device telemetry.
type DeviceReader interface {
	Info(ctx context.Context) (*models.DeviceInfo, error)
}

// Pinger checks backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the service fronts. Device, Source and Runner may
// be nil; the matching operations then fail with ErrUnavailable.
type Deps struct {
	Lock      *devicelock.Lock
	Scheduler *scheduler.Scheduler
	Queue     *notifications.Queue
	Filter    *notifications.Filter
	Source    notifications.Source
	Device    DeviceReader
	Runner    agent.Runner
	PDR       *audit.PDRWriter
	DB        Pinger
	Logger    *slog.Logger
	// LockTimeout bounds interactive command ownership.
	LockTimeout time.Duration
}

// Service provides the control plane business logic.
type Service struct {
	lock        *devicelock.Lock
	scheduler   *scheduler.Scheduler
	queue       *notifications.Queue
	filter      *notifications.Filter
	source      notifications.Source
	device      DeviceReader
	runner      agent.Runner
	pdr         *audit.PDRWriter
	db          Pinger
	logger      *slog.Logger
	lockTimeout time.Duration
}

// NewService creates a new control plane service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lock:        deps.Lock,
		scheduler:   deps.Scheduler,
		queue:       deps.Queue,
		filter:      deps.Filter,
		source:      deps.Source,
		device:      deps.Device,
		runner:      deps.Runner,
		pdr:         deps.PDR,
		db:          deps.DB,
		logger:      logger.With("component", "controlplane"),
		lockTimeout: deps.LockTimeout,
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Health reports daemon and storage health.
func (s *Service) Health(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			resp.OK = false
			resp.DB = err.Error()
		}
	}
	return resp
}

// --- Lock Operations ---

// LockState returns the current device ownership.
func (s *Service) LockState() models.LockState {
	return s.lock.State()
}

// ReleaseLock force-releases the device and returns who held it.
func (s *Service) ReleaseLock() models.LockState {
	prev := s.lock.State()
	s.lock.ForceRelease()
	if prev.Locked {
		s.pdr.Record(audit.ActionLockForceRelease, prev, "success", prev.Owner, string(prev.OwnerKind))
		s.logger.Info("lock force-released", "owner", prev.Owner, "kind", prev.OwnerKind)
	}
	return prev
}

// RunCommand runs prompt through the agent as the interactive user,
// preempting any automated holder for the duration.
func (s *Service) RunCommand(ctx context.Context, prompt string) (*models.AgentResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if s.runner == nil {
		return nil, fmt.Errorf("%w: agent", ErrUnavailable)
	}

	owner := "user-" + uuid.New().String()
	if !s.lock.Acquire(owner, models.OwnerInteractiveUser, s.lockTimeout) {
		return nil, ErrDeviceBusy
	}
	defer s.lock.Release(owner)

	result, err := s.runner.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	return result, nil
}

// DeviceInfo returns device telemetry.
func (s *Service) DeviceInfo(ctx context.Context) (*models.DeviceInfo, error) {
	if s.device == nil {
		return nil, fmt.Errorf("%w: device", ErrUnavailable)
	}
	return s.device.Info(ctx)
}

// --- Notification Operations ---

// NotificationStatus reports the triage pipeline state.
func (s *Service) NotificationStatus() notifications.QueueStatus {
	return s.queue.Status()
}

// StartNotifications starts the watcher.
func (s *Service) StartNotifications() notifications.QueueStatus {
	s.queue.Start()
	return s.queue.Status()
}

// StopNotifications stops the watcher and clears pending work.
func (s *Service) StopNotifications() notifications.QueueStatus {
	s.queue.Stop()
	return s.queue.Status()
}

// NotificationLog returns recent triage decisions.
func (s *Service) NotificationLog() []models.TriageLogEntry {
	return s.queue.Log()
}

// CurrentNotifications reads what the device is displaying right now.
func (s *Service) CurrentNotifications(ctx context.Context) ([]models.NotificationEvent, error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: notification source", ErrUnavailable)
	}
	return s.source.List(ctx)
}

// Whitelist returns the whitelisted packages.
func (s *Service) Whitelist() []string {
	return s.filter.List()
}

// AddToWhitelist whitelists pkg.
func (s *Service) AddToWhitelist(pkg string) ([]string, error) {
	if strings.TrimSpace(pkg) == "" {
		return nil, fmt.Errorf("%w: package is required", ErrInvalidRequest)
	}
	if err := s.filter.Add(pkg); err != nil {
		return nil, err
	}
	return s.whitelistChanged("add", pkg), nil
}

// RemoveFromWhitelist drops pkg from the whitelist.
func (s *Service) RemoveFromWhitelist(pkg string) ([]string, error) {
	if strings.TrimSpace(pkg) == "" {
		return nil, fmt.Errorf("%w: package is required", ErrInvalidRequest)
	}
	if err := s.filter.Remove(pkg); err != nil {
		return nil, err
	}
	return s.whitelistChanged("remove", pkg), nil
}

// SetWhitelist replaces the whitelist.
func (s *Service) SetWhitelist(packages []string) ([]string, error) {
	if err := s.filter.Set(packages); err != nil {
		return nil, err
	}
	return s.whitelistChanged("set", strings.Join(packages, ",")), nil
}

func (s *Service) whitelistChanged(op, subject string) []string {
	list := s.filter.List()
	s.pdr.Record(audit.ActionWhitelistChange, map[string]any{"op": op, "packages": list}, "success", subject, op)
	s.logger.Info("whitelist updated", "op", op, "subject", subject, "size", len(list))
	return list
}

// --- Schedule Operations ---

// ListTasks returns every scheduled task.
func (s *Service) ListTasks() []models.ScheduledTask {
	return s.scheduler.Tasks()
}

// GetTask returns one scheduled task.
func (s *Service) GetTask(id string) (models.ScheduledTask, error) {
	return s.scheduler.Task(id)
}

// AddTask creates a scheduled task after checking its cron expression.
func (s *Service) AddTask(name, prompt, cronExpr string) (models.ScheduledTask, error) {
	if err := cron.Validate(cronExpr); err != nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.scheduler.AddTask(name, prompt, cronExpr)
}

// RemoveTask deletes a scheduled task.
func (s *Service) RemoveTask(id string) error {
	return s.scheduler.RemoveTask(id)
}

// SetTaskEnabled enables or disables a task and returns it.
func (s *Service) SetTaskEnabled(id string, enabled bool) (models.ScheduledTask, error) {
	var err error
	if enabled {
		err = s.scheduler.EnableTask(id)
	} else {
		err = s.scheduler.DisableTask(id)
	}
	if err != nil {
		return models.ScheduledTask{}, err
	}
	return s.scheduler.Task(id)
}

// RunTask executes a task immediately.
func (s *Service) RunTask(ctx context.Context, id string) (models.ExecutionLogEntry, error) {
	return s.scheduler.RunNow(ctx, id)
}

// StartScheduler starts the tick loop.
func (s *Service) StartScheduler() (scheduler.Status, error) {
	if err := s.scheduler.Start(); err != nil {
		return s.scheduler.Status(), err
	}
	return s.scheduler.Status(), nil
}

// StopScheduler stops the tick loop.
func (s *Service) StopScheduler() (scheduler.Status, error) {
	if err := s.scheduler.Stop(); err != nil {
		return s.scheduler.Status(), err
	}
	return s.scheduler.Status(), nil
}

// SchedulerStatus reports scheduler state.
func (s *Service) SchedulerStatus() scheduler.Status {
	return s.scheduler.Status()
}

// SchedulerLog returns recent executions.
func (s *Service) SchedulerLog() []models.ExecutionLogEntry {
	return s.scheduler.Log()
}

// --- Audit ---

// Audit returns recent decision records, optionally filtered by action.
func (s *Service) Audit(action string, limit int) ([]models.PDREntry, error) {
	return s.pdr.Recent(action, limit)
}
