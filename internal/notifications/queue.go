package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pocketd/internal/agent"
	"github.com/fentz26/pocketd/internal/audit"
	"github.com/fentz26/pocketd/internal/metrics"
	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/ringlog"
)

// Skip reasons recorded in the triage log.
const (
	reasonTooOld     = "Notification too old (>60s)"
	reasonUserBusy   = "Device locked by user"
	reasonContention = "Could not acquire device lock"
)

// Lock is the subset of the device lock the queue needs.
type Lock interface {
	State() models.LockState
	Acquire(owner string, kind models.OwnerKind, timeout time.Duration) bool
	Release(owner string) bool
}

// QueueConfig tunes the triage queue.
type QueueConfig struct {
	MaxAge      time.Duration
	LockTimeout time.Duration
	LogCapacity int
}

// QueueDeps are the collaborators a Queue drives.
type QueueDeps struct {
	Watcher *Watcher
	Filter  *Filter
	Lock    Lock
	Triager agent.Triager
	PDR     *audit.PDRWriter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// QueueStatus is a point-in-time view of the pipeline.
type QueueStatus struct {
	Running       bool `json:"running"`
	Processing    bool `json:"processing"`
	QueueLength   int  `json:"queue_length"`
	WhitelistSize int  `json:"whitelist_size"`
}

// Queue serializes triage of whitelisted notifications. At most one
// notification is being triaged at a time.
type Queue struct {
	watcher *Watcher
	filter  *Filter
	lock    Lock
	triager agent.Triager
	pdr     *audit.PDRWriter
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  QueueConfig
	log     *ringlog.Ring[models.TriageLogEntry]
	now     func() time.Time

	// lifecycle serializes Start and Stop across the watcher calls so the
	// running flag always matches the watcher.
	lifecycle sync.Mutex

	mu         sync.Mutex
	pending    []models.NotificationEvent
	processing bool
	running    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue wires a Queue to its watcher. The watcher is not started.
func NewQueue(deps QueueDeps, cfg QueueConfig) *Queue {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 60 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		watcher: deps.Watcher,
		filter:  deps.Filter,
		lock:    deps.Lock,
		triager: deps.Triager,
		pdr:     deps.PDR,
		metrics: deps.Metrics,
		logger:  logger.With("component", "notification-queue"),
		config:  cfg,
		log:     ringlog.New[models.TriageLogEntry](cfg.LogCapacity),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	if q.watcher != nil {
		q.watcher.OnNew = q.Enqueue
	}
	return q
}

// Start begins polling. Starting a running queue is a no-op.
func (q *Queue) Start() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.watcher.Start(q.ctx)
	q.logger.Info("notification watcher started")
}

// Stop halts polling and drops pending notifications. A triage already in
// progress runs to completion; events from a poll still in flight are
// discarded.
func (q *Queue) Stop() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.pending = nil
	q.metrics.QueueLength(0)
	q.mu.Unlock()

	q.watcher.Stop()
	q.logger.Info("notification watcher stopped")
}

// Close stops the queue, cancels in-flight triage and waits for the
// consumer to exit.
func (q *Queue) Close() {
	q.Stop()
	q.cancel()
	q.wg.Wait()
}

// Status reports the pipeline state.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Running:       q.running,
		Processing:    q.processing,
		QueueLength:   len(q.pending),
		WhitelistSize: q.filter.Len(),
	}
}

// Log returns triage decisions, oldest first.
func (q *Queue) Log() []models.TriageLogEntry {
	return q.log.Snapshot()
}

// Enqueue accepts a notification if the queue is running and its package
// is whitelisted, and makes sure a consumer is draining the queue.
func (q *Queue) Enqueue(n models.NotificationEvent) {
	if !q.filter.IsAllowed(n.PackageName) {
		return
	}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, n)
	q.metrics.QueueLength(len(q.pending))
	start := !q.processing
	if start {
		q.processing = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.logger.Info("queued notification", "package", n.PackageName, "title", n.Title)

	if start {
		go q.drain()
	}
}

// drain is the single consumer. It exits when the queue is empty.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.pending = nil
			q.processing = false
			q.mu.Unlock()
			return
		}
		n := q.pending[0]
		q.pending = q.pending[1:]
		q.metrics.QueueLength(len(q.pending))
		q.mu.Unlock()

		q.process(n)
	}
}

// process runs the per-notification protocol. Errors become log entries;
// nothing here stops the consumer.
func (q *Queue) process(n models.NotificationEvent) {
	if !n.PostedAt.IsZero() && q.now().Sub(n.PostedAt) > q.config.MaxAge {
		q.record(n, models.TriageSkip, reasonTooOld)
		return
	}

	if q.lock.State().HeldBy(models.OwnerInteractiveUser) {
		q.record(n, models.TriageSkip, reasonUserBusy)
		return
	}

	owner := "notification-agent-" + uuid.New().String()
	if !q.lock.Acquire(owner, models.OwnerNotificationAgent, q.config.LockTimeout) {
		q.record(n, models.TriageSkip, reasonContention)
		return
	}
	defer q.lock.Release(owner)

	q.logger.Info("triaging notification", "package", n.PackageName, "title", n.Title)

	result, err := q.safeTriage(n)
	if err == nil && result == nil {
		err = fmt.Errorf("triage returned no decision")
	}
	if err != nil {
		q.logger.Error("triage failed", "package", n.PackageName, "error", err)
		q.record(n, models.TriageError, err.Error())
		return
	}
	q.logger.Info("triage decision", "package", n.PackageName, "action", result.Action)
	q.record(n, result.Action, result.Reason)
}

func (q *Queue) safeTriage(n models.NotificationEvent) (result *models.TriageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("triage panicked: %v", r)
		}
	}()
	return q.triager.Triage(q.ctx, n)
}

func (q *Queue) record(n models.NotificationEvent, action, reason string) {
	q.log.Append(models.TriageLogEntry{
		Timestamp:   q.now(),
		Key:         n.Key,
		PackageName: n.PackageName,
		Title:       n.Title,
		Action:      action,
		Reason:      reason,
	})
	q.metrics.Triaged(action)
	q.pdr.Record(audit.ActionTriage, n, action, n.PackageName, reason)
}
