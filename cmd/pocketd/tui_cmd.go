package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/config"
	"github.com/fentz26/pocketd/internal/tui"
)

const daemonStartTimeout = 5 * time.Second

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive TUI",
	Long:  `Opens the dashboard. A background daemon is started first if none answers at --api.`,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning(apiAddr) {
		fmt.Println("⚡ pocketd daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	if err := tui.New(apiAddr).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// isDaemonRunning reports whether /health answers at all. A 503 still means
// a daemon owns the port.
func isDaemonRunning(addr string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// startDaemon launches "pocketd daemon" detached, with output appended to
// daemon.log in the data directory, and waits for /health.
func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	dataDir := config.DefaultConfig().DataDir
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(dataDir, "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()

	proc := exec.Command(exe, "daemon")
	configureDaemonProc(proc)
	proc.Stdout = logFile
	proc.Stderr = logFile
	if err := proc.Start(); err != nil {
		return err
	}
	// The child keeps its own copy of the log descriptor.
	go proc.Wait()

	fmt.Print("   Waiting for daemon...")
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(daemonStartTimeout)
	for {
		select {
		case <-ticker.C:
			if isDaemonRunning(apiAddr) {
				fmt.Println(" Done.")
				return nil
			}
			fmt.Print(".")
		case <-deadline:
			fmt.Println(" Timeout!")
			return fmt.Errorf("daemon started but API not reachable at %s (see %s)", apiAddr, logFile.Name())
		}
	}
}
