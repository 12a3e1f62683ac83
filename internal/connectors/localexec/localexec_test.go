package localexec

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/connectors"
)

func TestIsAllowed(t *testing.T) {
	exec := New(Options{})

	tests := []struct {
		cmd     string
		allowed bool
	}{
		{"input keyevent KEYCODE_WAKEUP", true},
		{"dumpsys display | grep mScreenState", true},
		{"dumpsys notification --noredact", true},
		{"input text 1234 && input keyevent KEYCODE_ENTER", true},
		{"rm -rf /", false},
		{"dumpsys display | rm -rf /", false},
		{"input text $(cat /etc/passwd)", false},
		{"input text `id`", false},
		{"", false},
		{"input keyevent 26 |", false},
		{"dumpsys battery | grep -E 'level|status|plugged'", true},
		{"dumpsys wifi | grep 'Wi-Fi is' | head -1", true},
		{"input text 'unterminated", false},
		{"dumpsys display; rm -rf /", false},
		{"input tap 1 1 & rm -rf /", false},
		{"sh -c 'rm -rf /'", false},
		{"dumpsys display | sh", false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			assert.Equal(t, tt.allowed, exec.IsAllowed(tt.cmd))
		})
	}
}

func TestExecute_NotAllowed(t *testing.T) {
	exec := New(Options{})

	_, err := exec.Execute(context.Background(), "rm -rf /", connectors.ExecOptions{})
	assert.True(t, errors.Is(err, connectors.ErrCommandNotAllowed))
}

func TestName(t *testing.T) {
	assert.Equal(t, "localexec", New(Options{}).Name())
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecute_Unprivileged(t *testing.T) {
	skipOnWindows(t)
	exec := New(Options{Allowed: []string{"echo", "grep"}})

	result, err := exec.Execute(context.Background(), "echo hello world | grep world", connectors.ExecOptions{Unprivileged: true})
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, "hello world\n", result.Stdout)
}

func TestExecute_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)
	exec := New(Options{Allowed: []string{"false"}})

	result, err := exec.Execute(context.Background(), "false", connectors.ExecOptions{Unprivileged: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.False(t, result.OK())
}

func TestExecute_RootWrapsWithSu(t *testing.T) {
	skipOnWindows(t)
	// sh stands in for su: both accept -c <line>.
	exec := New(Options{Allowed: []string{"echo"}, SuPath: "sh"})

	result, err := exec.Execute(context.Background(), `echo "${LD_LIBRARY_PATH:-unset}"`, connectors.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "unset\n", result.Stdout)
}

func TestExecute_Timeout(t *testing.T) {
	skipOnWindows(t)
	exec := New(Options{Allowed: []string{"sleep"}})

	start := time.Now()
	_, err := exec.Execute(context.Background(), "sleep 5", connectors.ExecOptions{Timeout: 50 * time.Millisecond, Unprivileged: true})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
	assert.False(t, strings.Contains(b.String(), "e"))
}
