// Package device wakes, unlocks, sleeps and inspects the Android device.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/pocketd/internal/connectors"
	"github.com/fentz26/pocketd/internal/models"
)

var (
	// ErrNoPIN is returned by WakeAndUnlock when no PIN is configured.
	ErrNoPIN = errors.New("no device PIN configured")
	// ErrUnlockFailed is returned when the keyguard is still showing after
	// the unlock sequence.
	ErrUnlockFailed = errors.New("failed to wake/unlock device")
)

const stateReadTimeout = 5 * time.Second

// Delays controls the pacing of the unlock sequence.
type Delays struct {
	AfterWake    time.Duration
	AfterSwipe   time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// DefaultDelays matches how quickly a typical keyguard responds.
var DefaultDelays = Delays{
	AfterWake:    500 * time.Millisecond,
	AfterSwipe:   500 * time.Millisecond,
	PollInterval: 800 * time.Millisecond,
	PollAttempts: 5,
}

// Controller drives the device through a shell.
type Controller struct {
	shell  connectors.Shell
	pin    string
	delays Delays
	logger *slog.Logger
}

// New creates a Controller. An empty pin disables WakeAndUnlock.
func New(shell connectors.Shell, pin string, delays Delays, logger *slog.Logger) *Controller {
	if delays.PollAttempts <= 0 {
		delays.PollAttempts = DefaultDelays.PollAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		shell:  shell,
		pin:    pin,
		delays: delays,
		logger: logger.With("component", "device"),
	}
}

// IsScreenOn reports whether the screen is on and past the keyguard, i.e.
// usable without unlocking.
func (c *Controller) IsScreenOn(ctx context.Context) (bool, error) {
	var display, keyguard string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := c.read(gctx, "dumpsys display | grep mScreenState")
		display = out
		return err
	})
	g.Go(func() error {
		out, err := c.read(gctx, "dumpsys window | grep isKeyguardShowing")
		keyguard = out
		return err
	})
	if err := g.Wait(); err != nil {
		return false, fmt.Errorf("read screen state: %w", err)
	}

	screenOn := strings.Contains(display, "ON")
	locked := strings.Contains(keyguard, "isKeyguardShowing=true")
	return screenOn && !locked, nil
}

// WakeAndUnlock turns the screen on and enters the PIN, then waits for the
// keyguard to go away.
func (c *Controller) WakeAndUnlock(ctx context.Context) error {
	if c.pin == "" {
		c.logger.Error("cannot unlock: DEVICE_PIN is not set")
		return ErrNoPIN
	}

	if err := c.run(ctx, "input keyevent KEYCODE_WAKEUP"); err != nil {
		return err
	}
	if err := sleep(ctx, c.delays.AfterWake); err != nil {
		return err
	}

	if err := c.run(ctx, "input swipe 360 1200 360 400 300"); err != nil {
		return err
	}
	if err := sleep(ctx, c.delays.AfterSwipe); err != nil {
		return err
	}

	if err := c.run(ctx, "input text "+c.pin); err != nil {
		return err
	}
	if err := c.run(ctx, "input keyevent KEYCODE_ENTER"); err != nil {
		return err
	}

	for i := 0; i < c.delays.PollAttempts; i++ {
		if err := sleep(ctx, c.delays.PollInterval); err != nil {
			return err
		}
		on, err := c.IsScreenOn(ctx)
		if err != nil {
			c.logger.Warn("screen state check failed", "attempt", i+1, "error", err)
			continue
		}
		if on {
			c.logger.Info("device woken and unlocked")
			return nil
		}
	}

	c.logger.Error("device still locked after unlock sequence")
	return ErrUnlockFailed
}

// Sleep turns the screen off.
func (c *Controller) Sleep(ctx context.Context) error {
	if err := c.run(ctx, "input keyevent 223"); err != nil {
		return err
	}
	c.logger.Debug("device put to sleep")
	return nil
}

var (
	batteryLevelRe  = regexp.MustCompile(`level:\s*(\d+)`)
	batteryStatusRe = regexp.MustCompile(`status:\s*(\d+)`)
	pluggedRe       = regexp.MustCompile(`plugged:\s*(\d+)`)
	resumedRe       = regexp.MustCompile(`mResumedActivity:.*?\s(\S+/\S+)`)
)

var batteryStatuses = map[string]string{
	"1": "unknown",
	"2": "charging",
	"3": "discharging",
	"4": "not charging",
	"5": "full",
}

var plugTypes = map[string]string{
	"0": "unplugged",
	"1": "ac",
	"2": "usb",
	"4": "wireless",
	"8": "dock",
}

// Info collects battery, WiFi, display and foreground-app telemetry. Reads
// that fail leave their fields empty.
func (c *Controller) Info(ctx context.Context) (*models.DeviceInfo, error) {
	var battery, wifi, display, keyguard, activity string

	g, gctx := errgroup.WithContext(ctx)
	reads := []struct {
		cmd string
		out *string
	}{
		{"dumpsys battery | grep -E 'level|status|plugged'", &battery},
		{"dumpsys wifi | grep 'Wi-Fi is' | head -1", &wifi},
		{"dumpsys display | grep 'mScreenState' | head -1", &display},
		{"dumpsys window | grep isKeyguardShowing | head -1", &keyguard},
		{"dumpsys activity activities | grep 'mResumedActivity' | head -1", &activity},
	}
	for _, r := range reads {
		r := r
		g.Go(func() error {
			out, err := c.read(gctx, r.cmd)
			if err != nil {
				c.logger.Debug("telemetry read failed", "command", r.cmd, "error", err)
				return nil
			}
			*r.out = out
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return parseInfo(battery, wifi, display, keyguard, activity), nil
}

func parseInfo(battery, wifi, display, keyguard, activity string) *models.DeviceInfo {
	info := &models.DeviceInfo{
		ScreenOn:        strings.Contains(display, "ON"),
		KeyguardShowing: strings.Contains(keyguard, "isKeyguardShowing=true"),
		BatteryLevel:    -1,
		WiFi:            strings.TrimSpace(wifi),
		Display:         strings.TrimSpace(display),
	}

	if m := batteryLevelRe.FindStringSubmatch(battery); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			info.BatteryLevel = n
		}
	}
	if m := batteryStatusRe.FindStringSubmatch(battery); m != nil {
		info.BatteryStatus = batteryStatuses[m[1]]
	}
	if m := pluggedRe.FindStringSubmatch(battery); m != nil {
		info.Plugged = plugTypes[m[1]]
	}
	if m := resumedRe.FindStringSubmatch(activity); m != nil {
		info.Foreground = strings.TrimSuffix(m[1], "}")
	} else {
		info.Foreground = strings.TrimSpace(activity)
	}
	return info
}

func (c *Controller) read(ctx context.Context, cmd string) (string, error) {
	res, err := c.shell.Execute(ctx, cmd, connectors.ExecOptions{Timeout: stateReadTimeout})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (c *Controller) run(ctx context.Context, cmd string) error {
	if _, err := c.shell.Execute(ctx, cmd, connectors.ExecOptions{}); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
