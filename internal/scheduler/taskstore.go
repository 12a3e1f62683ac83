package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pocketd/internal/cron"
	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/store"
)

var (
	// ErrTaskNotFound indicates no task has the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask indicates a task is missing a name, prompt or schedule.
	ErrInvalidTask = errors.New("task requires name, prompt and cron expression")
)

// TaskStore owns the scheduled task list and keeps it persisted. Every
// mutation is written through before it becomes visible.
type TaskStore struct {
	mu     sync.RWMutex
	docs   store.Documents
	tasks  []models.ScheduledTask
	logger *slog.Logger
}

// NewTaskStore loads tasks from docs. A missing or unreadable document yields
// an empty list.
func NewTaskStore(docs store.Documents, logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TaskStore{docs: docs, logger: logger}

	var tasks []models.ScheduledTask
	found, err := docs.Load(store.DocScheduledTasks, &tasks)
	switch {
	case err != nil:
		logger.Warn("could not load scheduled tasks, starting empty", "error", err)
	case found:
		s.tasks = tasks
		logger.Info("loaded scheduled tasks", "count", len(tasks))
	}
	return s
}

// Add creates an enabled task.
func (s *TaskStore) Add(name, prompt, cronExpr string, now time.Time) (models.ScheduledTask, error) {
	name, prompt, cronExpr = strings.TrimSpace(name), strings.TrimSpace(prompt), strings.TrimSpace(cronExpr)
	if name == "" || prompt == "" || cronExpr == "" {
		return models.ScheduledTask{}, ErrInvalidTask
	}

	task := models.ScheduledTask{
		ID:             "sched-" + uuid.New().String(),
		Name:           name,
		Prompt:         prompt,
		CronExpression: cronExpr,
		Enabled:        true,
		CreatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(slices.Clone(s.tasks), task)
	if err := s.persistLocked(next); err != nil {
		return models.ScheduledTask{}, err
	}
	s.tasks = next
	return task, nil
}

// Remove deletes a task.
func (s *TaskStore) Remove(id string) (models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return models.ScheduledTask{}, ErrTaskNotFound
	}
	removed := s.tasks[idx]

	next := slices.Delete(slices.Clone(s.tasks), idx, idx+1)
	if err := s.persistLocked(next); err != nil {
		return models.ScheduledTask{}, err
	}
	s.tasks = next
	return removed, nil
}

// SetEnabled flips a task's enabled flag. It reports whether anything
// changed; an unchanged task is not rewritten.
func (s *TaskStore) SetEnabled(id string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, ErrTaskNotFound
	}
	if s.tasks[idx].Enabled == enabled {
		return false, nil
	}

	next := slices.Clone(s.tasks)
	next[idx].Enabled = enabled
	if err := s.persistLocked(next); err != nil {
		return false, err
	}
	s.tasks = next
	return true, nil
}

// RecordRun stores the outcome of a successful execution.
func (s *TaskStore) RecordRun(id string, at time.Time, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrTaskNotFound
	}

	next := slices.Clone(s.tasks)
	next[idx].LastRunAt = &at
	next[idx].LastResult = &result
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.tasks = next
	return nil
}

// List returns every task in insertion order.
func (s *TaskStore) List() []models.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tasks)
}

// Get returns one task.
func (s *TaskStore) Get(id string) (models.ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.tasks[idx], true
	}
	return models.ScheduledTask{}, false
}

// Due returns enabled tasks whose expression matches now, in task order.
func (s *TaskStore) Due(now time.Time) []models.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.ScheduledTask
	for _, t := range s.tasks {
		if t.Enabled && cron.Match(t.CronExpression, now) {
			due = append(due, t)
		}
	}
	return due
}

func (s *TaskStore) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t models.ScheduledTask) bool { return t.ID == id })
}

func (s *TaskStore) persistLocked(tasks []models.ScheduledTask) error {
	if tasks == nil {
		tasks = []models.ScheduledTask{}
	}
	if err := s.docs.Save(store.DocScheduledTasks, tasks); err != nil {
		return fmt.Errorf("persist scheduled tasks: %w", err)
	}
	return nil
}
