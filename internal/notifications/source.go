package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/pocketd/internal/connectors"
	"github.com/fentz26/pocketd/internal/models"
)

// DumpTimeout bounds a single notification dump; the output can be large.
const DumpTimeout = 15 * time.Second

// Source lists the notifications currently displayed on the device.
type Source interface {
	List(ctx context.Context) ([]models.NotificationEvent, error)
}

// DumpsysSource reads notifications from `dumpsys notification`.
type DumpsysSource struct {
	shell connectors.Shell
}

// NewDumpsysSource creates a Source backed by shell.
func NewDumpsysSource(shell connectors.Shell) *DumpsysSource {
	return &DumpsysSource{shell: shell}
}

// List implements Source.
func (s *DumpsysSource) List(ctx context.Context) ([]models.NotificationEvent, error) {
	res, err := s.shell.Execute(ctx, "dumpsys notification --noredact", connectors.ExecOptions{Timeout: DumpTimeout})
	if err != nil {
		return nil, fmt.Errorf("dump notifications: %w", err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("dump notifications: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return ParseDump(res.Stdout), nil
}
