// Package indicator shows an ongoing device notification while the triage
// agent is driving the device, so a person picking it up knows why it is
// moving on its own.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/pocketd/internal/connectors"
	"github.com/fentz26/pocketd/internal/models"
)

const (
	notificationID  = "pocketd_agent_active"
	notificationTag = "pocketd_lock"
	title           = "pocketd agent active"
	content         = "The notification agent is controlling the device"

	probeTimeout = 3 * time.Second
	shellTimeout = 5 * time.Second
)

// Subscriber is the part of the device lock the indicator listens to.
type Subscriber interface {
	OnStateChange(fn func(models.LockState)) func()
}

// Indicator mirrors notification-agent ownership of the lock as a device
// notification.
type Indicator struct {
	shell      connectors.Shell
	releaseURL string
	logger     *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	want        chan bool
	done        chan struct{}
	cancel      context.CancelFunc

	// shown is only touched by the worker goroutine.
	shown bool
}

// New creates an Indicator. releaseURL is POSTed by the notification's
// "Take Back Control" button.
func New(shell connectors.Shell, releaseURL string, logger *slog.Logger) *Indicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{
		shell:      shell,
		releaseURL: releaseURL,
		logger:     logger.With("component", "indicator"),
	}
}

// Start subscribes to lock changes. Starting twice is a no-op.
func (ind *Indicator) Start(lock Subscriber) {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if ind.unsubscribe != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ind.cancel = cancel
	ind.want = make(chan bool, 1)
	ind.done = make(chan struct{})
	go ind.worker(ctx, ind.want, ind.done)

	want := ind.want
	ind.unsubscribe = lock.OnStateChange(func(s models.LockState) {
		push(want, s.HeldBy(models.OwnerNotificationAgent))
	})
}

// Stop unsubscribes and hides the notification if it is showing.
func (ind *Indicator) Stop() {
	ind.mu.Lock()
	unsubscribe, want, done, cancel := ind.unsubscribe, ind.want, ind.done, ind.cancel
	ind.unsubscribe = nil
	ind.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	push(want, false)
	close(want)
	<-done
	cancel()
}

// push replaces any undelivered state with v. Only the latest state matters.
func push(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (ind *Indicator) worker(ctx context.Context, want <-chan bool, done chan<- struct{}) {
	defer close(done)
	for show := range want {
		if show == ind.shown {
			continue
		}
		var err error
		if show {
			err = ind.show(ctx)
		} else {
			err = ind.hide(ctx)
		}
		if err != nil {
			ind.logger.Warn("indicator update failed", "show", show, "error", err)
		}
		ind.shown = show
	}
}

func (ind *Indicator) hasTermux(ctx context.Context) bool {
	res, err := ind.shell.Execute(ctx, "which termux-notification", connectors.ExecOptions{Unprivileged: true, Timeout: probeTimeout})
	return err == nil && res.OK()
}

func (ind *Indicator) show(ctx context.Context) error {
	if ind.hasTermux(ctx) {
		cmd := fmt.Sprintf(
			`termux-notification --id %q --title %q --content %q --ongoing --button1 "Take Back Control" --button1-action 'curl -s -X POST %s'`,
			notificationID, title, content, ind.releaseURL,
		)
		_, err := ind.shell.Execute(ctx, cmd, connectors.ExecOptions{Unprivileged: true, Timeout: shellTimeout})
		return err
	}

	cmd := fmt.Sprintf(`cmd notification post -t %q %q %q`, title, notificationTag, content)
	_, err := ind.shell.Execute(ctx, cmd, connectors.ExecOptions{Timeout: shellTimeout})
	return err
}

func (ind *Indicator) hide(ctx context.Context) error {
	if ind.hasTermux(ctx) {
		_, err := ind.shell.Execute(ctx, fmt.Sprintf("termux-notification-remove %q", notificationID), connectors.ExecOptions{Unprivileged: true, Timeout: shellTimeout})
		return err
	}
	_, err := ind.shell.Execute(ctx, fmt.Sprintf("cmd notification cancel %q", notificationTag), connectors.ExecOptions{Timeout: shellTimeout})
	return err
}
