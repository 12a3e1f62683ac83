// Package notifications turns the device's notification shade into a
// filtered, serialized triage queue.
package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/pocketd/internal/metrics"
	"github.com/fentz26/pocketd/internal/models"
)

// DefaultPollInterval is how often the shade is re-read.
const DefaultPollInterval = 5 * time.Second

// Watcher polls a Source and reports notifications that appeared or
// disappeared since the previous successful poll.
type Watcher struct {
	source   Source
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// OnNew and OnRemoved are called synchronously from the poll goroutine.
	OnNew     func(models.NotificationEvent)
	OnRemoved func(key string)

	mu     sync.Mutex
	seen   map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a stopped Watcher.
func NewWatcher(source Source, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source:   source,
		interval: interval,
		metrics:  m,
		logger:   logger.With("component", "notification-watcher"),
		seen:     make(map[string]struct{}),
	}
}

// Start polls immediately and then every interval until Stop or ctx ends.
// Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)
}

// Stop halts polling and waits for an in-flight poll to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reset forgets every seen key; the next poll reports everything as new.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.seen = make(map[string]struct{})
	w.mu.Unlock()
}

// Running reports whether the poll loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll diffs the current shade against the previous one. A failed read
// reports nothing and keeps the previous baseline.
func (w *Watcher) poll(ctx context.Context) {
	current, err := w.source.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Debug("poll failed", "error", err)
		}
		w.metrics.Poll(false)
		return
	}
	w.metrics.Poll(true)

	keys := make(map[string]struct{}, len(current))
	var added []models.NotificationEvent
	var removed []string

	w.mu.Lock()
	for _, n := range current {
		if _, dup := keys[n.Key]; dup {
			continue
		}
		keys[n.Key] = struct{}{}
		if _, ok := w.seen[n.Key]; !ok {
			added = append(added, n)
		}
	}
	for key := range w.seen {
		if _, ok := keys[key]; !ok {
			removed = append(removed, key)
		}
	}
	w.seen = keys
	w.mu.Unlock()

	for _, n := range added {
		if w.OnNew != nil {
			w.OnNew(n)
		}
	}
	for _, key := range removed {
		if w.OnRemoved != nil {
			w.OnRemoved(key)
		}
	}
}
