// Package scheduler runs cron-scheduled prompts against the device, waking
// and unlocking it when needed and yielding to the interactive user.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pocketd/internal/agent"
	"github.com/fentz26/pocketd/internal/audit"
	"github.com/fentz26/pocketd/internal/metrics"
	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/ringlog"
	"github.com/fentz26/pocketd/internal/store"
)

// Skip and failure messages recorded in the execution log.
const (
	msgUserBusy      = "Skipped: device busy (locked by user)"
	msgWakeFailed    = "Failed to wake/unlock device"
	msgLockContended = "Skipped: could not acquire device lock"
)

// Lock is the subset of the device lock the scheduler needs.
type Lock interface {
	State() models.LockState
	Acquire(owner string, kind models.OwnerKind, timeout time.Duration) bool
	Release(owner string) bool
}

// Waker brings the device to a usable screen and back to sleep.
type Waker interface {
	IsScreenOn(ctx context.Context) (bool, error)
	WakeAndUnlock(ctx context.Context) error
	Sleep(ctx context.Context) error
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Docs    store.Documents
	Lock    Lock
	Waker   Waker
	Runner  agent.Runner
	PDR     *audit.PDRWriter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running      bool       `json:"running"`
	Executing    bool       `json:"executing"`
	TaskCount    int        `json:"task_count"`
	EnabledCount int        `json:"enabled_count"`
	LastTickAt   *time.Time `json:"last_tick_at,omitempty"`
}

type runningState struct {
	Running bool `json:"running"`
}

// Scheduler manages scheduled tasks and the tick loop that runs them.
type Scheduler struct {
	tasks   *TaskStore
	docs    store.Documents
	lock    Lock
	waker   Waker
	runner  agent.Runner
	pdr     *audit.PDRWriter
	metrics *metrics.Metrics
	config  *Config
	logger  *slog.Logger
	log     *ringlog.Ring[models.ExecutionLogEntry]
	now     func() time.Time

	// executing is set for the duration of a sweep; ticks that find it set
	// are dropped.
	executing atomic.Bool

	mu         sync.Mutex
	running    bool
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	lastTickAt time.Time

	// Sweeps run under ctx so Close can abandon in-flight work.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler and loads its tasks. The tick loop is not started.
func New(deps Deps, cfg *Config) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:   NewTaskStore(deps.Docs, logger),
		docs:    deps.Docs,
		lock:    deps.Lock,
		waker:   deps.Waker,
		runner:  deps.Runner,
		pdr:     deps.PDR,
		metrics: deps.Metrics,
		config:  cfg,
		logger:  logger,
		log:     ringlog.New[models.ExecutionLogEntry](cfg.LogCapacity),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// --- Lifecycle ---

// Start begins the tick loop and persists the running flag. Starting a
// running scheduler is a no-op.
func (sch *Scheduler) Start() error {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.running {
		return nil
	}
	if err := sch.saveRunning(true); err != nil {
		return err
	}
	sch.startLocked()
	return nil
}

// Stop halts the tick loop and persists the running flag. A sweep already in
// progress finishes on its own.
func (sch *Scheduler) Stop() error {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if !sch.running {
		return nil
	}
	sch.stopLocked()
	sch.logger.Info("scheduler stopped")
	return sch.saveRunning(false)
}

// RestoreRunningState starts the loop if it was running when the daemon last
// exited.
func (sch *Scheduler) RestoreRunningState() {
	var state runningState
	found, err := sch.docs.Load(store.DocSchedulerState, &state)
	if err != nil {
		sch.logger.Warn("could not load scheduler state", "error", err)
		return
	}
	if !found || !state.Running {
		return
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	if !sch.running {
		sch.startLocked()
	}
}

// Close stops the loop without touching the persisted running flag, cancels
// in-flight sweeps and waits for them to return.
func (sch *Scheduler) Close() {
	sch.mu.Lock()
	if sch.running {
		sch.stopLocked()
	}
	sch.mu.Unlock()

	sch.cancel()
	sch.wg.Wait()
}

// IsRunning reports whether the tick loop is active.
func (sch *Scheduler) IsRunning() bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.running
}

func (sch *Scheduler) startLocked() {
	loopCtx, stop := context.WithCancel(sch.ctx)
	done := make(chan struct{})
	sch.running = true
	sch.stopLoop = stop
	sch.loopDone = done

	go sch.schedulerLoop(loopCtx, done)
	sch.logger.Info("scheduler started", "interval", sch.config.TickInterval)
}

func (sch *Scheduler) stopLocked() {
	sch.stopLoop()
	<-sch.loopDone
	sch.running = false
	sch.stopLoop = nil
	sch.loopDone = nil
}

func (sch *Scheduler) saveRunning(running bool) error {
	if err := sch.docs.Save(store.DocSchedulerState, runningState{Running: running}); err != nil {
		return fmt.Errorf("persist scheduler state: %w", err)
	}
	return nil
}

// schedulerLoop fires a sweep on every tick.
func (sch *Scheduler) schedulerLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(sch.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := sch.now()
			sch.wg.Add(1)
			go func() {
				defer sch.wg.Done()
				sch.tick(now)
			}()
		}
	}
}

// tick runs every due task in order unless a previous sweep is still going.
func (sch *Scheduler) tick(now time.Time) {
	if !sch.executing.CompareAndSwap(false, true) {
		sch.logger.Debug("tick dropped, previous sweep still running")
		return
	}
	defer sch.executing.Store(false)

	sch.mu.Lock()
	sch.lastTickAt = now
	sch.mu.Unlock()

	for _, task := range sch.tasks.Due(now) {
		if sch.ctx.Err() != nil {
			return
		}
		sch.executeTask(sch.ctx, task)
	}
}

// --- Task management ---

// AddTask creates an enabled task.
func (sch *Scheduler) AddTask(name, prompt, cronExpr string) (models.ScheduledTask, error) {
	task, err := sch.tasks.Add(name, prompt, cronExpr, sch.now())
	if err != nil {
		return task, err
	}
	sch.pdr.Record(audit.ActionTaskAdd, task, "success", task.ID, task.CronExpression)
	sch.logger.Info("task added", "id", task.ID, "name", task.Name, "cron", task.CronExpression)
	return task, nil
}

// RemoveTask deletes a task.
func (sch *Scheduler) RemoveTask(id string) error {
	task, err := sch.tasks.Remove(id)
	if err != nil {
		return err
	}
	sch.pdr.Record(audit.ActionTaskRemove, map[string]string{"id": id}, "success", id, task.Name)
	sch.logger.Info("task removed", "id", id, "name", task.Name)
	return nil
}

// EnableTask enables a task. Enabling an enabled task succeeds without
// rewriting storage.
func (sch *Scheduler) EnableTask(id string) error {
	return sch.setEnabled(id, true, audit.ActionTaskEnable)
}

// DisableTask disables a task. Disabling a disabled task succeeds without
// rewriting storage.
func (sch *Scheduler) DisableTask(id string) error {
	return sch.setEnabled(id, false, audit.ActionTaskDisable)
}

func (sch *Scheduler) setEnabled(id string, enabled bool, action string) error {
	changed, err := sch.tasks.SetEnabled(id, enabled)
	if err != nil {
		return err
	}
	if changed {
		sch.pdr.Record(action, map[string]string{"id": id}, "success", id, "")
		sch.logger.Info("task updated", "id", id, "enabled", enabled)
	}
	return nil
}

// Tasks returns every task.
func (sch *Scheduler) Tasks() []models.ScheduledTask {
	return sch.tasks.List()
}

// Task returns one task.
func (sch *Scheduler) Task(id string) (models.ScheduledTask, error) {
	task, ok := sch.tasks.Get(id)
	if !ok {
		return task, ErrTaskNotFound
	}
	return task, nil
}

// Log returns the execution log, oldest first.
func (sch *Scheduler) Log() []models.ExecutionLogEntry {
	return sch.log.Snapshot()
}

// Status returns current scheduler statistics.
func (sch *Scheduler) Status() Status {
	tasks := sch.tasks.List()
	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()

	st := Status{
		Running:      sch.running,
		Executing:    sch.executing.Load(),
		TaskCount:    len(tasks),
		EnabledCount: enabled,
	}
	if !sch.lastTickAt.IsZero() {
		at := sch.lastTickAt
		st.LastTickAt = &at
	}
	return st
}

// --- Execution ---

// RunNow executes one task immediately, regardless of its schedule or
// whether a sweep is running.
func (sch *Scheduler) RunNow(ctx context.Context, id string) (models.ExecutionLogEntry, error) {
	task, ok := sch.tasks.Get(id)
	if !ok {
		return models.ExecutionLogEntry{}, ErrTaskNotFound
	}
	return sch.executeTask(ctx, task), nil
}

// executeTask runs the full protocol for one task: yield to the user, make
// the screen usable, take the lock, run the prompt, record the outcome and
// always give the lock back.
func (sch *Scheduler) executeTask(ctx context.Context, task models.ScheduledTask) models.ExecutionLogEntry {
	started := time.Now()
	logger := sch.logger.With("task_id", task.ID, "task_name", task.Name)
	logger.Info("executing task")

	entry := sch.run(ctx, task, logger)

	sch.log.Append(entry)
	sch.metrics.TaskRun(entry.Status, time.Since(started))
	sch.pdr.Record(audit.ActionTaskRun, map[string]string{"id": task.ID, "prompt": task.Prompt}, string(entry.Status), task.ID, entry.Result)
	logger.Info("task finished", "status", entry.Status, "turns", entry.Turns)
	return entry
}

func (sch *Scheduler) run(ctx context.Context, task models.ScheduledTask, logger *slog.Logger) models.ExecutionLogEntry {
	newEntry := func(status models.RunStatus, result string, turns int) models.ExecutionLogEntry {
		return models.ExecutionLogEntry{
			Timestamp: sch.now(),
			TaskID:    task.ID,
			TaskName:  task.Name,
			Status:    status,
			Success:   status == models.RunStatusSuccess,
			Result:    truncate(result, sch.config.ResultMaxLen),
			Turns:     turns,
		}
	}

	if sch.lock.State().HeldBy(models.OwnerInteractiveUser) {
		return newEntry(models.RunStatusSkipped, msgUserBusy, 0)
	}

	wokeDevice := false
	on, err := sch.waker.IsScreenOn(ctx)
	if err != nil {
		logger.Warn("could not read screen state, assuming off", "error", err)
	}
	if !on {
		if err := sch.waker.WakeAndUnlock(ctx); err != nil {
			logger.Warn("wake failed", "error", err)
			return newEntry(models.RunStatusFailed, msgWakeFailed, 0)
		}
		wokeDevice = true
	}
	if wokeDevice {
		defer func() {
			// The sweep context may be cancelled; still try to turn the screen off.
			sleepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := sch.waker.Sleep(sleepCtx); err != nil {
				logger.Warn("could not put device to sleep", "error", err)
			}
		}()
	}

	owner := fmt.Sprintf("scheduled-task-%s-%s", task.ID, uuid.New().String())
	if !sch.lock.Acquire(owner, models.OwnerScheduledTask, sch.config.LockTimeout) {
		return newEntry(models.RunStatusSkipped, msgLockContended, 0)
	}
	defer sch.lock.Release(owner)

	res, err := sch.runner.Run(ctx, task.Prompt)
	if err != nil {
		logger.Error("agent run failed", "error", err)
		return newEntry(models.RunStatusError, "Error: "+err.Error(), 0)
	}

	result := truncate(res.Text, sch.config.ResultMaxLen)
	if err := sch.tasks.RecordRun(task.ID, sch.now(), result); err != nil && !errors.Is(err, ErrTaskNotFound) {
		logger.Error("could not record task result", "error", err)
		return newEntry(models.RunStatusError, "Error: "+err.Error(), res.Turns)
	}
	return newEntry(models.RunStatusSuccess, result, res.Turns)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
