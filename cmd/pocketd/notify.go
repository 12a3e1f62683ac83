package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/notifications"
)

var notifyCmd = &cobra.Command{
	Use:     "notify",
	Short:   "Control the notification watcher and triage queue",
	Aliases: []string{"notifications"},
}

var notifyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watcher and queue status",
	RunE:  runNotifyStatus,
}

var notifyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching notifications",
	RunE:  runNotifyStart,
}

var notifyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop watching notifications",
	RunE:  runNotifyStop,
}

var notifyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent triage decisions",
	RunE:  runNotifyLog,
}

var notifyCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "List notifications currently on the device",
	RunE:  runNotifyCurrent,
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage the package whitelist",
	RunE:  runWhitelistList,
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add [package]",
	Short: "Whitelist a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistRemoveCmd = &cobra.Command{
	Use:     "rm [package]",
	Short:   "Remove a package from the whitelist",
	Aliases: []string{"remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runWhitelistRemove,
}

var whitelistSetCmd = &cobra.Command{
	Use:   "set [package...]",
	Short: "Replace the whitelist",
	RunE:  runWhitelistSet,
}

func init() {
	whitelistCmd.AddCommand(whitelistAddCmd, whitelistRemoveCmd, whitelistSetCmd)
	notifyCmd.AddCommand(notifyStatusCmd, notifyStartCmd, notifyStopCmd, notifyLogCmd, notifyCurrentCmd, whitelistCmd)
}

func runNotifyStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/notifications/status")
	if err != nil {
		return err
	}
	return printQueueStatus(resp)
}

func runNotifyStart(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/notifications/start", nil)
	if err != nil {
		return err
	}
	return printQueueStatus(resp)
}

func runNotifyStop(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/notifications/stop", nil)
	if err != nil {
		return err
	}
	return printQueueStatus(resp)
}

func printQueueStatus(resp []byte) error {
	var status notifications.QueueStatus
	if err := json.Unmarshal(resp, &status); err != nil {
		return err
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Printf("Watcher:   %s\n", state)
	fmt.Printf("Queue:     %d pending", status.QueueLength)
	if status.Processing {
		fmt.Print(" (triaging)")
	}
	fmt.Println()
	fmt.Printf("Whitelist: %d packages\n", status.WhitelistSize)
	return nil
}

func runNotifyLog(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/notifications/log")
	if err != nil {
		return err
	}

	var entries []models.TriageLogEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No triage decisions yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPACKAGE\tACTION\tTITLE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("15:04:05"), e.PackageName, e.Action, clip(e.Title, 30), clip(e.Reason, 40))
	}
	return w.Flush()
}

func runNotifyCurrent(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/notifications/current")
	if err != nil {
		return err
	}

	var events []models.NotificationEvent
	if err := json.Unmarshal(resp, &events); err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No notifications")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tTITLE\tTEXT\tPOSTED")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.PackageName, clip(e.Title, 30), clip(e.Text, 40), e.PostedAt.Local().Format("15:04:05"))
	}
	return w.Flush()
}

func runWhitelistList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/notifications/whitelist")
	if err != nil {
		return err
	}
	return printWhitelist(resp)
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/notifications/whitelist", map[string]string{"package": args[0]})
	if err != nil {
		return err
	}
	return printWhitelist(resp)
}

func runWhitelistRemove(cmd *cobra.Command, args []string) error {
	resp, err := apiDelete("/notifications/whitelist/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	return printWhitelist(resp)
}

func runWhitelistSet(cmd *cobra.Command, args []string) error {
	packages := args
	if packages == nil {
		packages = []string{}
	}
	resp, err := apiPut("/notifications/whitelist", map[string][]string{"packages": packages})
	if err != nil {
		return err
	}
	return printWhitelist(resp)
}

func printWhitelist(resp []byte) error {
	var result struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if len(result.Packages) == 0 {
		fmt.Println("Whitelist is empty")
		return nil
	}
	for _, p := range result.Packages {
		fmt.Println(p)
	}
	return nil
}

// clip shortens s to max runes for table output.
func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

