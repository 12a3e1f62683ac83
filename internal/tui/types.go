package tui

import (
	"time"

	"github.com/fentz26/pocketd/internal/models"
)

// SchedulerStatus mirrors GET /scheduler/status.
type SchedulerStatus struct {
	Running      bool       `json:"running"`
	Executing    bool       `json:"executing"`
	TaskCount    int        `json:"task_count"`
	EnabledCount int        `json:"enabled_count"`
	LastTickAt   *time.Time `json:"last_tick_at,omitempty"`
}

// QueueStatus mirrors GET /notifications/status.
type QueueStatus struct {
	Running       bool `json:"running"`
	Processing    bool `json:"processing"`
	QueueLength   int  `json:"queue_length"`
	WhitelistSize int  `json:"whitelist_size"`
}

// Snapshot is everything the dashboard renders from one refresh.
type Snapshot struct {
	Lock          models.LockState
	Scheduler     SchedulerStatus
	Notifications QueueStatus
	Tasks         []models.ScheduledTask
	Runs          []models.ExecutionLogEntry
	Triage        []models.TriageLogEntry
	FetchedAt     time.Time
}
