package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/models"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or release the device lock",
	RunE:  runLockStatus,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the device",
	RunE:  runLockStatus,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Force-release the device lock",
	RunE:  runLockRelease,
}

func init() {
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/lock")
	if err != nil {
		return err
	}

	var state models.LockState
	if err := json.Unmarshal(resp, &state); err != nil {
		return err
	}

	printLockState(state)
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/lock/release", nil)
	if err != nil {
		return err
	}

	var result struct {
		Released bool             `json:"released"`
		Previous models.LockState `json:"previous"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if !result.Previous.Locked {
		fmt.Println("Device was not locked")
		return nil
	}
	fmt.Printf("Released lock held by %s (%s)\n", result.Previous.Owner, result.Previous.OwnerKind)
	return nil
}

func printLockState(state models.LockState) {
	if !state.Locked {
		fmt.Println("Device: free")
		return
	}
	fmt.Printf("Device: held by %s (%s)\n", state.Owner, state.OwnerKind)
	if state.AcquiredAt != nil {
		fmt.Printf("Since:  %s (%s)\n", state.AcquiredAt.Local().Format(time.RFC3339), time.Since(*state.AcquiredAt).Round(time.Second))
	}
}
