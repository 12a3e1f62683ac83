//go:build windows

package main

import "os/exec"

// Windows has no Setsid; a started child already outlives the parent console.
func configureDaemonProc(cmd *exec.Cmd) {}
