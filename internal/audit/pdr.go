// Package audit records Process Decision Records for actions pocketd takes
// on the device's behalf.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/pocketd/internal/models"
)

// Actions recorded by the daemon.
const (
	ActionTaskAdd          = "task.add"
	ActionTaskRemove       = "task.remove"
	ActionTaskEnable       = "task.enable"
	ActionTaskDisable      = "task.disable"
	ActionTaskRun          = "task.run"
	ActionTriage           = "notification.triage"
	ActionLockForceRelease = "lock.force_release"
	ActionWhitelistChange  = "whitelist.change"
)

// Sink persists PDR rows. *store.Store satisfies it.
type Sink interface {
	WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error)
	ListPDR(action string, limit int) ([]models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
// A nil *PDRWriter discards everything.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry. subject identifies what the action was about:
// a task id, a notification package, a lock owner.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error) {
	if w == nil || w.sink == nil {
		return nil, nil
	}
	return w.sink.WritePDR(action, hashInputs(inputs), outcome, subject, details)
}

// Recent returns the latest records for action, or for every action when
// action is empty.
func (w *PDRWriter) Recent(action string, limit int) ([]models.PDREntry, error) {
	if w == nil || w.sink == nil {
		return nil, nil
	}
	return w.sink.ListPDR(action, limit)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
