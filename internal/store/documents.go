package store

import (
	"errors"
	"fmt"
	"regexp"
)

// Documents persists small JSON documents keyed by logical name.
type Documents interface {
	// Load decodes the named document into v. It reports false with a nil
	// error when the document does not exist yet.
	Load(name string, v any) (bool, error)
	// Save replaces the named document with v.
	Save(name string, v any) error
}

// Document names used by the daemon.
const (
	DocScheduledTasks     = "scheduled-tasks"
	DocSchedulerState     = "scheduler-state"
	DocNotificationFilter = "notification-filter"
)

// ErrCorruptDocument indicates a stored document could not be decoded.
var ErrCorruptDocument = errors.New("corrupt document")

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
