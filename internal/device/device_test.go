package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/connectors"
)

// fakeShell answers commands by prefix and records every call.
type fakeShell struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]func() string
	fail    map[string]error
}

func newFakeShell() *fakeShell {
	return &fakeShell{answers: map[string]func() string{}, fail: map[string]error{}}
}

func (f *fakeShell) on(prefix string, out string) {
	f.answers[prefix] = func() string { return out }
}

func (f *fakeShell) Execute(_ context.Context, command string, _ connectors.ExecOptions) (*connectors.ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()

	for prefix, err := range f.fail {
		if strings.HasPrefix(command, prefix) {
			return nil, err
		}
	}
	for prefix, answer := range f.answers {
		if strings.HasPrefix(command, prefix) {
			return &connectors.ExecResult{Command: command, Stdout: answer()}, nil
		}
	}
	return &connectors.ExecResult{Command: command}, nil
}

func (f *fakeShell) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var noDelays = Delays{PollAttempts: 5}

func TestIsScreenOn(t *testing.T) {
	tests := []struct {
		name     string
		display  string
		keyguard string
		want     bool
	}{
		{"on and unlocked", "mScreenState=ON", "isKeyguardShowing=false", true},
		{"on behind keyguard", "mScreenState=ON", "isKeyguardShowing=true", false},
		{"off", "mScreenState=OFF", "isKeyguardShowing=false", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := newFakeShell()
			sh.on("dumpsys display", tt.display)
			sh.on("dumpsys window", tt.keyguard)

			on, err := New(sh, "", noDelays, nil).IsScreenOn(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, on)
		})
	}
}

func TestIsScreenOn_ShellError(t *testing.T) {
	sh := newFakeShell()
	sh.fail["dumpsys window"] = errors.New("timeout")

	_, err := New(sh, "", noDelays, nil).IsScreenOn(context.Background())
	assert.Error(t, err)
}

func TestWakeAndUnlock_NoPIN(t *testing.T) {
	sh := newFakeShell()
	err := New(sh, "", noDelays, nil).WakeAndUnlock(context.Background())
	assert.ErrorIs(t, err, ErrNoPIN)
	assert.Empty(t, sh.commands())
}

func TestWakeAndUnlock_Sequence(t *testing.T) {
	sh := newFakeShell()
	sh.on("dumpsys display", "mScreenState=ON")
	sh.on("dumpsys window", "isKeyguardShowing=false")

	require.NoError(t, New(sh, "1234", noDelays, nil).WakeAndUnlock(context.Background()))

	cmds := sh.commands()
	require.GreaterOrEqual(t, len(cmds), 4)
	assert.Equal(t, []string{
		"input keyevent KEYCODE_WAKEUP",
		"input swipe 360 1200 360 400 300",
		"input text 1234",
		"input keyevent KEYCODE_ENTER",
	}, cmds[:4])
}

func TestWakeAndUnlock_StillLocked(t *testing.T) {
	sh := newFakeShell()
	sh.on("dumpsys display", "mScreenState=ON")
	sh.on("dumpsys window", "isKeyguardShowing=true")

	err := New(sh, "1234", noDelays, nil).WakeAndUnlock(context.Background())
	assert.ErrorIs(t, err, ErrUnlockFailed)

	var checks int
	for _, c := range sh.commands() {
		if strings.HasPrefix(c, "dumpsys window") {
			checks++
		}
	}
	assert.Equal(t, 5, checks)
}

func TestWakeAndUnlock_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sh := newFakeShell()
	err := New(sh, "1234", DefaultDelays, nil).WakeAndUnlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep(t *testing.T) {
	sh := newFakeShell()
	require.NoError(t, New(sh, "", noDelays, nil).Sleep(context.Background()))
	assert.Equal(t, []string{"input keyevent 223"}, sh.commands())
}

func TestInfo(t *testing.T) {
	sh := newFakeShell()
	sh.on("dumpsys battery", "  AC powered: false\n  status: 2\n  plugged: 2\n  level: 87\n")
	sh.on("dumpsys wifi", "Wi-Fi is enabled\n")
	sh.on("dumpsys display", "  mScreenState=ON\n")
	sh.on("dumpsys window", "    isKeyguardShowing=false\n")
	sh.on("dumpsys activity", "  mResumedActivity: ActivityRecord{1a2b u0 com.android.chrome/org.chromium.chrome.browser.ChromeTabbedActivity t12}\n")

	info, err := New(sh, "", noDelays, nil).Info(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 87, info.BatteryLevel)
	assert.Equal(t, "charging", info.BatteryStatus)
	assert.Equal(t, "usb", info.Plugged)
	assert.Equal(t, "Wi-Fi is enabled", info.WiFi)
	assert.True(t, info.ScreenOn)
	assert.False(t, info.KeyguardShowing)
	assert.Equal(t, "com.android.chrome/org.chromium.chrome.browser.ChromeTabbedActivity", info.Foreground)
}

func TestInfo_MissingTelemetry(t *testing.T) {
	sh := newFakeShell()
	sh.fail["dumpsys battery"] = errors.New("boom")

	info, err := New(sh, "", noDelays, nil).Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, info.BatteryLevel)
	assert.Empty(t, info.Foreground)
}
