// Package devicelock arbitrates exclusive control of the device between the
// interactive user and background automation.
package devicelock

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fentz26/pocketd/internal/models"
)

// DefaultTimeout is how long a holder keeps the lock without refreshing it.
const DefaultTimeout = 2 * time.Minute

// Event names passed to an Observer.
const (
	EventAcquired  = "acquired"
	EventPreempted = "preempted"
	EventReleased  = "released"
	EventForced    = "force_released"
	EventExpired   = "expired"
)

// Observer is told about every committed transition. kind is the owner kind
// of the holder after the transition, or of the previous holder on release.
type Observer interface {
	LockTransition(kind models.OwnerKind, event string)
	LockHeld(held bool)
}

type transition struct {
	kind  models.OwnerKind
	event string
	state models.LockState
}

// Lock is a non-blocking, timed, preemptible mutual exclusion over the device.
// Acquisition never waits: callers that lose simply skip their work.
type Lock struct {
	mu         sync.Mutex
	owner      string
	kind       models.OwnerKind
	acquiredAt time.Time
	timer      *time.Timer
	gen        uint64

	defaultTimeout time.Duration

	listeners map[uint64]func(models.LockState)
	nextID    uint64
	// pending holds committed transitions not yet delivered. Only the
	// goroutine that set delivering drains it, so listeners see transitions
	// in commit order and may call back into the Lock.
	pending    []transition
	delivering bool

	observer Observer
	logger   *slog.Logger
}

// Option configures a Lock.
type Option func(*Lock)

// WithDefaultTimeout overrides DefaultTimeout for acquires that pass timeout <= 0.
func WithDefaultTimeout(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.defaultTimeout = d
		}
	}
}

// WithObserver reports transitions to o.
func WithObserver(o Observer) Option {
	return func(l *Lock) { l.observer = o }
}

// WithLogger sets the logger used for expiry and listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates an unlocked Lock.
func New(opts ...Option) *Lock {
	l := &Lock{
		defaultTimeout: DefaultTimeout,
		listeners:      make(map[uint64]func(models.LockState)),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "devicelock")
	return l
}

// Acquire tries to take the lock for owner. It returns immediately.
//
// The current holder calling again refreshes its timer. An interactive user
// preempts automated holders. Everyone else loses while the lock is held.
// A timeout <= 0 uses the default timeout.
func (l *Lock) Acquire(owner string, kind models.OwnerKind, timeout time.Duration) bool {
	if owner == "" || !kind.Valid() {
		return false
	}
	if timeout <= 0 {
		timeout = l.defaultTimeout
	}

	l.mu.Lock()

	if l.owner == owner {
		l.armLocked(timeout)
		l.mu.Unlock()
		return true
	}

	event := EventAcquired
	if l.owner != "" {
		if kind != models.OwnerInteractiveUser || !l.kind.Automated() {
			l.mu.Unlock()
			return false
		}
		event = EventPreempted
		l.logger.Info("lock preempted", "previous_owner", l.owner, "previous_kind", l.kind, "owner", owner)
	}

	l.owner = owner
	l.kind = kind
	l.acquiredAt = time.Now()
	l.armLocked(timeout)

	l.commit(kind, event)
	return true
}

// Release frees the lock if owner holds it. It reports whether anything was
// released.
func (l *Lock) Release(owner string) bool {
	l.mu.Lock()
	if owner == "" || l.owner != owner {
		l.mu.Unlock()
		return false
	}
	kind := l.kind
	l.clearLocked()
	l.commit(kind, EventReleased)
	return true
}

// ForceRelease clears the lock regardless of holder.
func (l *Lock) ForceRelease() {
	l.forceRelease(0, false, EventForced)
}

func (l *Lock) forceRelease(gen uint64, checkGen bool, event string) {
	l.mu.Lock()
	if checkGen && gen != l.gen {
		l.mu.Unlock()
		return
	}
	if l.owner == "" {
		l.mu.Unlock()
		return
	}
	kind := l.kind
	if event == EventExpired {
		l.logger.Warn("lock auto-released after timeout", "owner", l.owner, "kind", l.kind)
	}
	l.clearLocked()
	l.commit(kind, event)
}

// State returns a snapshot of the current ownership.
func (l *Lock) State() models.LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// OnStateChange registers fn to run after every committed transition with the
// new state. Listeners run synchronously, in commit order. A listener may call
// back into the Lock; the resulting transition is delivered after the current
// one finishes. The returned func unregisters fn.
func (l *Lock) OnStateChange(fn func(models.LockState)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Lock) stateLocked() models.LockState {
	if l.owner == "" {
		return models.LockState{}
	}
	at := l.acquiredAt
	return models.LockState{
		Locked:     true,
		Owner:      l.owner,
		OwnerKind:  l.kind,
		AcquiredAt: &at,
	}
}

// armLocked replaces the expiry timer. Bumping gen invalidates any timer that
// already fired but has not yet taken mu.
func (l *Lock) armLocked(timeout time.Duration) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.gen++
	gen := l.gen
	l.timer = time.AfterFunc(timeout, func() {
		l.forceRelease(gen, true, EventExpired)
	})
}

func (l *Lock) clearLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
	l.owner = ""
	l.kind = ""
	l.acquiredAt = time.Time{}
}

// commit must be called with mu held; it queues the transition, releases mu
// and, unless another call is already delivering, drains the queue.
func (l *Lock) commit(kind models.OwnerKind, event string) {
	l.pending = append(l.pending, transition{kind: kind, event: event, state: l.stateLocked()})
	if l.delivering {
		l.mu.Unlock()
		return
	}
	l.delivering = true

	for len(l.pending) > 0 {
		t := l.pending[0]
		l.pending = l.pending[1:]
		fns := l.sortedListenersLocked()
		l.mu.Unlock()

		if l.observer != nil {
			l.observer.LockTransition(t.kind, t.event)
			l.observer.LockHeld(t.state.Locked)
		}
		for _, fn := range fns {
			l.notify(fn, t.state)
		}

		l.mu.Lock()
	}
	l.pending = nil
	l.delivering = false
	l.mu.Unlock()
}

func (l *Lock) sortedListenersLocked() []func(models.LockState) {
	ids := make([]uint64, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(models.LockState), len(ids))
	for i, id := range ids {
		fns[i] = l.listeners[id]
	}
	return fns
}

func (l *Lock) notify(fn func(models.LockState), state models.LockState) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lock listener panicked", "panic", r)
		}
	}()
	fn(state)
}
