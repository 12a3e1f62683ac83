// Package tui provides the interactive terminal dashboard for pocketd.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/pocketd/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1).
			Width(30)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

const (
	modeDashboard = "dashboard"
	modeSchedules = "schedules"
	modeLog       = "log"

	refreshInterval = 2 * time.Second
)

var modes = []string{modeDashboard, modeSchedules, modeLog}

// App is the main TUI application model.
type App struct {
	client       *Client
	snap         *Snapshot
	selectedIdx  int
	input        textinput.Model
	spinner      spinner.Model
	width        int
	height       int
	mode         string
	message      string
	busy         bool
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: cmd <prompt> | release | run | sched start | notify stop | / for more"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		spinner:     sp,
		mode:        modeDashboard,
		suggestions: NewSuggestions(),
		width:       100,
		height:      30,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.spinner.Tick,
		a.refresh(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.suggestions.IsVisible() {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, nil
			}
			a.mode = modeDashboard
			return a, nil

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.snap != nil && a.selectedIdx < len(a.snap.Tasks)-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab":
			if a.acceptSuggestion() {
				return a, nil
			}
			a.mode = nextMode(a.mode)
			return a, nil

		case "ctrl+r":
			return a, a.refreshOnce()

		case "enter":
			if a.acceptSuggestion() {
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line == "" {
				if a.mode == modeDashboard {
					a.mode = modeSchedules
				}
				return a, nil
			}
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, a.executeCommand(line)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6

	case snapshotMsg:
		a.applySnapshot(msg)
		if !msg.once {
			cmds = append(cmds, a.tickCmd())
		}

	case tickMsg:
		return a, a.refresh()

	case commandResultMsg:
		a.busy = false
		a.message = msg.message
		if msg.quit {
			return a, tea.Quit
		}
		cmds = append(cmds, a.refreshOnce())

	case selectScheduleMsg:
		a.selectSchedule(msg.id)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") && a.snap != nil {
		a.suggestions.SetSchedules(a.snap.Tasks)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() bool {
	if !a.suggestions.IsVisible() {
		return false
	}
	if selected := a.suggestions.Selected(); selected != nil {
		prefix := a.suggestions.prefix
		a.input.SetValue(prefix + selected.Text)
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
	return true
}

func (a *App) applySnapshot(msg snapshotMsg) {
	if msg.err != nil {
		a.daemonOnline = false
		a.message = "Error: " + msg.err.Error()
		return
	}
	if !a.daemonOnline && strings.HasPrefix(a.message, "Error") {
		a.message = ""
	}
	a.daemonOnline = true
	a.snap = msg.snap
	if a.selectedIdx >= len(a.snap.Tasks) {
		a.selectedIdx = max(0, len(a.snap.Tasks)-1)
	}
}

func (a *App) selectSchedule(id string) {
	if a.snap == nil {
		return
	}
	for i, t := range a.snap.Tasks {
		if t.ID == id {
			a.selectedIdx = i
			a.mode = modeSchedules
			return
		}
	}
	a.message = "Error: no schedule " + id
}

func (a *App) selectedTask() *models.ScheduledTask {
	if a.snap == nil || len(a.snap.Tasks) == 0 || a.selectedIdx >= len(a.snap.Tasks) {
		return nil
	}
	t := a.snap.Tasks[a.selectedIdx]
	return &t
}

func nextMode(current string) string {
	for i, m := range modes {
		if m == current {
			return modes[(i+1)%len(modes)]
		}
	}
	return modeDashboard
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("📱 POCKETD")
	header += "  " + daemonStatus
	if a.snap != nil {
		header += "  " + a.lockBadge(a.snap.Lock)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	contentHeight := a.height - 9
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch {
	case a.snap == nil:
		b.WriteString("\n  Connecting to daemon...\n")
	case a.mode == modeSchedules:
		b.WriteString(a.renderSchedules(contentHeight))
	case a.mode == modeLog:
		b.WriteString(a.renderLog(contentHeight))
	default:
		b.WriteString(a.renderDashboard())
	}

	// Message bar
	switch {
	case a.busy:
		b.WriteString("\n" + a.spinner.View() + " " + mutedStyle.Render(a.message))
	case a.message != "":
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	default:
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeSchedules:
		n := 0
		if a.snap != nil {
			n = len(a.snap.Tasks)
		}
		status = fmt.Sprintf(" Schedules: %d | ↑↓:nav | run/enable/disable act on selection | Tab:log | Esc:back", n)
	case modeLog:
		status = " Log | Tab:dashboard | Ctrl+R:refresh | Esc:back | Ctrl+C:quit"
	default:
		status = " Dashboard | Tab:schedules | Enter:schedules | Ctrl+R:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

func (a *App) lockBadge(state models.LockState) string {
	if !state.Locked {
		return onlineStyle.Render("🔓 device free")
	}
	style := lipgloss.NewStyle().Bold(true)
	switch state.OwnerKind {
	case models.OwnerInteractiveUser:
		style = style.Foreground(cyanColor)
	case models.OwnerNotificationAgent:
		style = style.Foreground(warningColor)
	case models.OwnerScheduledTask:
		style = style.Foreground(secondaryColor)
	}
	return style.Render("🔒 " + string(state.OwnerKind))
}

func (a *App) renderDashboard() string {
	s := a.snap

	lock := []string{lipgloss.NewStyle().Bold(true).Render("Device lock")}
	if s.Lock.Locked {
		lock = append(lock,
			a.lockBadge(s.Lock),
			mutedStyle.Render(truncate(s.Lock.Owner, 26)),
		)
		if s.Lock.AcquiredAt != nil {
			lock = append(lock, "held "+formatAgo(*s.Lock.AcquiredAt, s.FetchedAt))
		}
	} else {
		lock = append(lock, onlineStyle.Render("free"))
	}

	sched := []string{
		lipgloss.NewStyle().Bold(true).Render("Scheduler"),
		runningLabel(s.Scheduler.Running),
		fmt.Sprintf("tasks: %d (%d enabled)", s.Scheduler.TaskCount, s.Scheduler.EnabledCount),
	}
	if s.Scheduler.Executing {
		sched = append(sched, lipgloss.NewStyle().Foreground(primaryColor).Render("◑ executing"))
	}
	if s.Scheduler.LastTickAt != nil {
		sched = append(sched, "last tick "+formatAgo(*s.Scheduler.LastTickAt, s.FetchedAt))
	}

	notif := []string{
		lipgloss.NewStyle().Bold(true).Render("Notifications"),
		runningLabel(s.Notifications.Running),
		fmt.Sprintf("queue: %d", s.Notifications.QueueLength),
		fmt.Sprintf("whitelist: %d packages", s.Notifications.WhitelistSize),
	}
	if s.Notifications.Processing {
		notif = append(notif, lipgloss.NewStyle().Foreground(primaryColor).Render("◑ triaging"))
	}

	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(strings.Join(lock, "\n")),
		panelStyle.Render(strings.Join(sched, "\n")),
		panelStyle.Render(strings.Join(notif, "\n")),
	))
	b.WriteString("\n\n")
	b.WriteString(a.renderRuns(3))
	b.WriteString(a.renderTriage(3))
	return b.String()
}

func (a *App) renderSchedules(height int) string {
	tasks := a.snap.Tasks
	if len(tasks) == 0 {
		return "\n  No schedules. Add one with: pocketd schedule add <name> <cron> <prompt>\n"
	}

	var lines []string
	for i, t := range tasks {
		mark := onlineStyle.Render("●")
		plain := "●"
		if !t.Enabled {
			mark = mutedStyle.Render("○")
			plain = "○"
		}
		last := "never"
		if t.LastRunAt != nil {
			last = formatAgo(*t.LastRunAt, a.snap.FetchedAt)
		}
		text := fmt.Sprintf("%-24s %-16s last: %s", truncate(t.Name, 24), t.CronExpression, last)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+plain+" "+text))
		} else {
			lines = append(lines, itemStyle.Render("  "+mark+" "+text))
		}
	}

	// Limit visible lines
	if len(lines) > height-3 && height > 3 {
		visible := height - 3
		start := max(0, a.selectedIdx-visible/2)
		end := min(len(lines), start+visible)
		start = max(0, end-visible)
		lines = lines[start:end]
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n") + "\n")
	if t := a.selectedTask(); t != nil {
		b.WriteString("\n  " + mutedStyle.Render(t.ID) + "\n")
		b.WriteString("  " + truncate(t.Prompt, max(a.width-4, 20)) + "\n")
		if t.LastResult != nil {
			b.WriteString("  " + helpStyle.Render(truncate(*t.LastResult, max(a.width-4, 20))) + "\n")
		}
	}
	return b.String()
}

func (a *App) renderLog(height int) string {
	n := max(height/2-2, 1)
	return a.renderRuns(n) + a.renderTriage(n)
}

func (a *App) renderRuns(n int) string {
	var b strings.Builder
	b.WriteString("  🕒 Scheduled runs\n")
	runs := lastN(a.snap.Runs, n)
	if len(runs) == 0 {
		b.WriteString("    " + mutedStyle.Render("none yet") + "\n")
	}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		b.WriteString(fmt.Sprintf("    %s %s %s %s\n",
			mutedStyle.Render(r.Timestamp.Local().Format("15:04:05")),
			formatRunStatus(r.Status),
			truncate(r.TaskName, 20),
			mutedStyle.Render(truncate(r.Result, 50)),
		))
	}
	return b.String()
}

func (a *App) renderTriage(n int) string {
	var b strings.Builder
	b.WriteString("  🔔 Triage decisions\n")
	entries := lastN(a.snap.Triage, n)
	if len(entries) == 0 {
		b.WriteString("    " + mutedStyle.Render("none yet") + "\n")
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		b.WriteString(fmt.Sprintf("    %s %s %s %s\n",
			mutedStyle.Render(e.Timestamp.Local().Format("15:04:05")),
			formatTriageAction(e.Action),
			truncate(e.PackageName+": "+e.Title, 40),
			mutedStyle.Render(truncate(e.Reason, 40)),
		))
	}
	return b.String()
}

func runningLabel(running bool) string {
	if running {
		return onlineStyle.Render("● running")
	}
	return mutedStyle.Render("○ stopped")
}

func formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusSuccess:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE   ")
	case models.RunStatusSkipped:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ SKIPPED")
	case models.RunStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED ")
	case models.RunStatusError:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ ERROR  ")
	default:
		return string(status)
	}
}

func formatTriageAction(action string) string {
	style := lipgloss.NewStyle()
	switch action {
	case models.TriageAct, models.TriageAlert:
		style = style.Foreground(warningColor).Bold(true)
	case models.TriageSkip, models.TriageIgnore:
		style = style.Foreground(mutedColor)
	case models.TriageError:
		style = style.Foreground(errorColor)
	default:
		style = style.Foreground(successColor)
	}
	return style.Render(fmt.Sprintf("%-6s", strings.ToUpper(action)))
}

func formatAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds ago", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
	return t.Local().Format("Jan 2 15:04")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// --- Commands ---

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, err := a.client.Snapshot(context.Background())
		return snapshotMsg{snap: snap, err: err}
	}
}

// refreshOnce fetches without scheduling another tick.
func (a *App) refreshOnce() tea.Cmd {
	return func() tea.Msg {
		snap, err := a.client.Snapshot(context.Background())
		return snapshotMsg{snap: snap, err: err, once: true}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) executeCommand(input string) tea.Cmd {
	input = strings.TrimPrefix(input, "/")

	if id, ok := strings.CutPrefix(input, "@"); ok {
		return func() tea.Msg { return selectScheduleMsg{id: strings.TrimSpace(id)} }
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]
	ctx := context.Background()

	// Resolve the schedule now; the selection may move while the call runs.
	target := ""
	if len(args) > 0 {
		target = strings.TrimPrefix(args[0], "@")
	} else if t := a.selectedTask(); t != nil {
		target = t.ID
	}

	switch cmd {
	case "cmd", "command", "ask":
		if len(args) == 0 {
			return result("Usage: cmd <prompt>")
		}
		prompt := strings.Join(args, " ")
		a.busy = true
		a.message = "Agent working: " + truncate(prompt, 40)
		return func() tea.Msg {
			res, err := a.client.RunCommand(ctx, prompt)
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ [%d turns] %s", res.Turns, truncate(res.Text, 200))}
		}

	case "release", "!take-back":
		return func() tea.Msg {
			if err := a.client.ReleaseLock(ctx); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: "✓ Lock released"}
		}

	case "run":
		if target == "" {
			return result("No schedule selected")
		}
		a.busy = true
		a.message = "Running " + target
		return func() tea.Msg {
			entry, err := a.client.RunSchedule(ctx, target)
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ %s: %s %s", entry.TaskName, entry.Status, truncate(entry.Result, 120))}
		}

	case "enable", "disable":
		if target == "" {
			return result("No schedule selected")
		}
		enabled := cmd == "enable"
		return func() tea.Msg {
			if err := a.client.SetScheduleEnabled(ctx, target, enabled); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ Schedule %sd", cmd)}
		}

	case "sched", "scheduler", "notify":
		if len(args) != 1 || (args[0] != "start" && args[0] != "stop") {
			return result(fmt.Sprintf("Usage: %s start|stop", cmd))
		}
		start := args[0] == "start"
		return func() tea.Msg {
			var err error
			if cmd == "notify" {
				err = a.client.SetWatcherRunning(ctx, start)
			} else {
				err = a.client.SetSchedulerRunning(ctx, start)
			}
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			if start {
				return commandResultMsg{message: "✓ " + cmd + " started"}
			}
			return commandResultMsg{message: "✓ " + cmd + " stopped"}
		}

	case "!pause-all", "!resume-all":
		start := cmd == "!resume-all"
		return func() tea.Msg {
			if err := a.client.SetSchedulerRunning(ctx, start); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			if err := a.client.SetWatcherRunning(ctx, start); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			if start {
				return commandResultMsg{message: "✓ Scheduler and watcher running"}
			}
			return commandResultMsg{message: "✓ Scheduler and watcher paused"}
		}

	case "q", "quit", "exit":
		return func() tea.Msg { return commandResultMsg{quit: true} }
	}

	return result(fmt.Sprintf("Unknown: %s (try: cmd, release, run, sched, notify)", cmd))
}

func result(message string) tea.Cmd {
	return func() tea.Msg { return commandResultMsg{message: message} }
}

type commandResultMsg struct {
	message string
	quit    bool
}

type snapshotMsg struct {
	snap *Snapshot
	err  error
	once bool
}

type selectScheduleMsg struct {
	id string
}

type tickMsg time.Time
