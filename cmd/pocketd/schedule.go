package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/models"
	"github.com/fentz26/pocketd/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Short:   "Manage scheduled tasks",
	Aliases: []string{"sched"},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled task",
	RunE:  runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE:  runScheduleList,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show scheduled task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "rm [task-id]",
	Short:   "Remove a scheduled task",
	Aliases: []string{"remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runScheduleRemove,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [task-id]",
	Short: "Enable a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleEnable,
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [task-id]",
	Short: "Disable a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDisable,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run [task-id]",
	Short: "Run a scheduled task now",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRun,
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the scheduler loop",
	RunE:  runSchedulerStatus,
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler",
	RunE:  runSchedulerStart,
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scheduler",
	RunE:  runSchedulerStop,
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	RunE:  runSchedulerStatus,
}

var schedulerLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent scheduled runs",
	RunE:  runSchedulerLog,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent decision records",
	RunE:  runAudit,
}

var (
	scheduleName   string
	schedulePrompt string
	scheduleCron   string
	auditAction    string
	auditLimit     int
)

func init() {
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleShowCmd, scheduleRemoveCmd,
		scheduleEnableCmd, scheduleDisableCmd, scheduleRunCmd)
	schedulerCmd.AddCommand(schedulerStartCmd, schedulerStopCmd, schedulerStatusCmd, schedulerLogCmd)

	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "", "Task name (required)")
	scheduleAddCmd.Flags().StringVar(&schedulePrompt, "prompt", "", "Prompt sent to the agent (required)")
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "Five-field cron expression, e.g. '0 9 * * 1-5' (required)")
	scheduleAddCmd.MarkFlagRequired("name")
	scheduleAddCmd.MarkFlagRequired("prompt")
	scheduleAddCmd.MarkFlagRequired("cron")

	auditCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (e.g. lock.force_release)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"name":            scheduleName,
		"prompt":          schedulePrompt,
		"cron_expression": scheduleCron,
	}

	resp, err := apiPost("/schedules", body)
	if err != nil {
		return err
	}

	var task models.ScheduledTask
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Created schedule: %s (%s)\n", task.ID, task.CronExpression)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/schedules")
	if err != nil {
		return err
	}

	var tasks []models.ScheduledTask
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No schedules found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCRON\tENABLED\tLAST RUN")
	for _, t := range tasks {
		lastRun := "-"
		if t.LastRunAt != nil {
			lastRun = t.LastRunAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.CronExpression, yesNo(t.Enabled), lastRun)
	}
	return w.Flush()
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/schedules/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}

	var t models.ScheduledTask
	if err := json.Unmarshal(resp, &t); err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Name:     %s\n", t.Name)
	fmt.Printf("Cron:     %s\n", t.CronExpression)
	fmt.Printf("Enabled:  %s\n", yesNo(t.Enabled))
	fmt.Printf("Created:  %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.LastRunAt != nil {
		fmt.Printf("Last run: %s\n", t.LastRunAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("\nPrompt:\n  %s\n", t.Prompt)
	if t.LastResult != nil {
		fmt.Printf("\nLast result:\n  %s\n", *t.LastResult)
	}
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/schedules/" + url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Printf("Removed schedule: %s\n", args[0])
	return nil
}

func runScheduleEnable(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/schedules/"+url.PathEscape(args[0])+"/enable", nil); err != nil {
		return err
	}
	fmt.Printf("Enabled schedule: %s\n", args[0])
	return nil
}

func runScheduleDisable(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/schedules/"+url.PathEscape(args[0])+"/disable", nil); err != nil {
		return err
	}
	fmt.Printf("Disabled schedule: %s\n", args[0])
	return nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	resp, err := apiDo(agentAPIClient, http.MethodPost, "/schedules/"+url.PathEscape(args[0])+"/run", nil)
	if err != nil {
		return err
	}

	var entry models.ExecutionLogEntry
	if err := json.Unmarshal(resp, &entry); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", entry.TaskName, entry.Status)
	if entry.Result != "" {
		fmt.Println(entry.Result)
	}
	return nil
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/scheduler/start", nil)
	if err != nil {
		return err
	}
	return printSchedulerStatus(resp)
}

func runSchedulerStop(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/scheduler/stop", nil)
	if err != nil {
		return err
	}
	return printSchedulerStatus(resp)
}

func runSchedulerStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/scheduler/status")
	if err != nil {
		return err
	}
	return printSchedulerStatus(resp)
}

func printSchedulerStatus(resp []byte) error {
	var status scheduler.Status
	if err := json.Unmarshal(resp, &status); err != nil {
		return err
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}
	if status.Executing {
		state += " (executing)"
	}
	fmt.Printf("Scheduler: %s\n", state)
	fmt.Printf("Tasks:     %d (%d enabled)\n", status.TaskCount, status.EnabledCount)
	if status.LastTickAt != nil {
		fmt.Printf("Last tick: %s\n", status.LastTickAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runSchedulerLog(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/scheduler/log")
	if err != nil {
		return err
	}

	var entries []models.ExecutionLogEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No runs yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTASK\tSTATUS\tTURNS\tRESULT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format("01-02 15:04"), e.TaskName, e.Status, e.Turns, clip(e.Result, 50))
	}
	return w.Flush()
}

func runAudit(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if auditAction != "" {
		q.Set("action", auditAction)
	}
	if auditLimit > 0 {
		q.Set("limit", strconv.Itoa(auditLimit))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var entries []models.PDREntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tSUBJECT\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("01-02 15:04:05"), e.Action, e.Outcome, e.Subject, clip(e.Details, 50))
	}
	return w.Flush()
}
