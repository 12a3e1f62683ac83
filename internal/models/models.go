// Package models defines the core domain types for pocketd.
package models

import "time"

// OwnerKind classifies who is asking for device control.
type OwnerKind string

const (
	OwnerInteractiveUser   OwnerKind = "interactive-user"
	OwnerNotificationAgent OwnerKind = "notification-agent"
	OwnerScheduledTask     OwnerKind = "scheduled-task"
)

// Valid reports whether k is one of the known owner kinds.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerInteractiveUser, OwnerNotificationAgent, OwnerScheduledTask:
		return true
	}
	return false
}

// Automated reports whether k is a background actor that a user may preempt.
func (k OwnerKind) Automated() bool {
	return k == OwnerNotificationAgent || k == OwnerScheduledTask
}

// LockState is a read-only snapshot of device ownership.
// Owner and OwnerKind are either both set or both empty.
type LockState struct {
	Locked     bool       `json:"locked"`
	Owner      string     `json:"owner,omitempty"`
	OwnerKind  OwnerKind  `json:"owner_kind,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
}

// HeldBy reports whether the lock is held by an owner of the given kind.
func (s LockState) HeldBy(kind OwnerKind) bool {
	return s.Locked && s.OwnerKind == kind
}

// ScheduledTask is a cron-driven prompt executed against the device.
type ScheduledTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Prompt         string     `json:"prompt"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastResult     *string    `json:"last_result,omitempty"`
}

// RunStatus is the outcome class of a scheduled task execution.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusFailed  RunStatus = "failed"
	RunStatusError   RunStatus = "error"
)

// ExecutionLogEntry records one scheduled task execution attempt.
type ExecutionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	TaskName  string    `json:"task_name"`
	Status    RunStatus `json:"status"`
	Success   bool      `json:"success"`
	Result    string    `json:"result"`
	Turns     int       `json:"turns"`
}

// Triage decision labels. The agent may return other labels; these are the
// ones the pipeline itself produces or expects.
const (
	TriageIgnore = "ignore"
	TriageLog    = "log"
	TriageAlert  = "alert"
	TriageAct    = "act"
	TriageSkip   = "skip"
	TriageError  = "error"
)

// TriageLogEntry records the decision taken for one notification.
type TriageLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Key         string    `json:"key"`
	PackageName string    `json:"package_name"`
	Title       string    `json:"title"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
}

// NotificationEvent is one displayed notification as seen by a poll.
// PostedAt is zero when the device did not report a post time.
type NotificationEvent struct {
	Key         string    `json:"key"`
	PackageName string    `json:"package_name"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	SubText     string    `json:"sub_text"`
	PostedAt    time.Time `json:"posted_at"`
	Actions     []string  `json:"actions"`
	IsOngoing   bool      `json:"is_ongoing"`
	IsClearable bool      `json:"is_clearable"`
}

// AgentResult is returned by the external agent for a prompt.
type AgentResult struct {
	Text  string `json:"text"`
	Turns int    `json:"turns"`
}

// TriageResult is the triage agent's decision for a notification.
type TriageResult struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// DeviceInfo is a loosely parsed view of device telemetry.
type DeviceInfo struct {
	ScreenOn        bool   `json:"screen_on"`
	KeyguardShowing bool   `json:"keyguard_showing"`
	BatteryLevel    int    `json:"battery_level"`
	BatteryStatus   string `json:"battery_status,omitempty"`
	Plugged         string `json:"plugged,omitempty"`
	WiFi            string `json:"wifi,omitempty"`
	Display         string `json:"display,omitempty"`
	Foreground      string `json:"foreground,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
