package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/orchestrator"
	"github.com/mpataki/polyrun/internal/polyglot"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewNewRun
	ViewLogs
)

type App struct {
	orchestrator *orchestrator.Orchestrator
	tasks        map[string]*models.TaskDef
	taskIDs      []string

	view          View
	runs          []*models.Run
	selectedIdx   int
	selectedRun   *models.Run
	metrics       []*models.MetricPoint
	selectedTask  int
	logs          viewport.Model
	logsAvailable bool

	width  int
	height int
	err    error
}

func NewApp(orch *orchestrator.Orchestrator, tasks map[string]*models.TaskDef) *App {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return &App{
		orchestrator: orch,
		tasks:        tasks,
		taskIDs:      ids,
		view:         ViewRunList,
		logs:         viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == models.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.logs.Width = msg.Width
		a.logs.Height = max(msg.Height-4, 1)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Only refresh if we're on the run list view and have running runs
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		// Keep ticking to detect new running runs
		return a, a.tickCmd()

	case runDetailMsg:
		a.selectedRun = msg.run
		a.metrics = msg.metrics
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
		}
		return a, nil

	case runStartedMsg:
		a.err = msg.err
		a.view = ViewRunList
		return a, a.loadRuns

	case runDeletedMsg:
		a.err = msg.err
		// Adjust selection if needed
		if a.selectedIdx >= len(a.runs)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadRuns

	case logsLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.logs.SetContent(msg.content)
		a.logs.GotoBottom()
		a.logsAvailable = msg.content != ""
		a.view = ViewLogs
		return a, nil
	}

	if a.view == ViewLogs {
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewLogs:
		return a.handleLogsKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewNewRun:
		return a.handleNewRunKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "n":
		a.selectedTask = 0
		a.view = ViewNewRun

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.metrics = nil

	case "ctrl+c":
		return a, tea.Quit

	case "l":
		if a.selectedRun != nil {
			return a, a.loadLogs(a.selectedRun.ID)
		}
	}

	return a, nil
}

func (a *App) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.logs, cmd = a.logs.Update(msg)
	return a, cmd
}

func (a *App) handleNewRunKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.view = ViewRunList

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedTask > 0 {
			a.selectedTask--
		}

	case "down", "j":
		if a.selectedTask < len(a.taskIDs)-1 {
			a.selectedTask++
		}

	case "enter":
		if a.selectedTask < len(a.taskIDs) {
			return a, a.startRun(a.tasks[a.taskIDs[a.selectedTask]])
		}
	}

	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewNewRun:
		return a.viewNewRun()
	case ViewLogs:
		return a.viewLogs()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("polyrun") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Press 'n' to start one.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			isSelected := i == a.selectedIdx
			isRunning := run.Status == models.RunStatusRunning

			if isSelected {
				line = selectedStyle.Render("▶ " + line)
			} else if !isRunning {
				// Dim finished runs
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [n] new  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	status := a.formatStatus(run.Status)
	age := a.formatAge(run.CreatedAt)
	return fmt.Sprintf("#%-3d %-18s %-9s %-10s %s  %s", run.ID, truncate(run.TaskID, 18), run.Kind, run.Language, status, age)
}

func (a *App) formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

func (a *App) formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running")
	case models.RunStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return string(status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	run := a.selectedRun

	// Header with status badge
	header := fmt.Sprintf("Run #%d: %s", run.ID, run.TaskID)
	s := titleStyle.Render(header) + "  " + a.formatStatus(run.Status) + "\n\n"

	s += labelStyle.Render("Task:      ") + fmt.Sprintf("%s (%s)", run.Kind, run.Language) + "\n"
	s += labelStyle.Render("Workspace: ") + dimStyle.Render(run.WorkspacePath) + "\n"
	if run.CompletedAt != nil {
		s += labelStyle.Render("Duration:  ") + formatDuration(run.CompletedAt.Sub(run.CreatedAt)) + "\n"
	}
	if run.OutputURI != "" {
		s += labelStyle.Render("Output:    ") + run.OutputURI + "\n"
	}
	if run.Result != "" {
		s += labelStyle.Render("Result:    ") + run.Result + "\n"
	}
	if run.Error != "" {
		s += labelStyle.Render("Error:     ") + statusFailed.Render(run.Error) + "\n"
	}

	if run.Outputs != "" {
		s += "\nOutputs\n"
		s += "───────\n"
		s += formatOutputs(run.Outputs) + "\n"
	}

	s += "\nMetrics\n"
	s += "───────\n"
	if len(a.metrics) == 0 {
		s += "(no metrics recorded)\n"
	} else {
		for _, m := range a.metrics {
			line := fmt.Sprintf("%-20s %g", m.Counter.Name, m.Counter.Value)
			if len(m.Counter.Tags) > 0 {
				line += "  " + dimStyle.Render(formatTags(m.Counter.Tags))
			}
			s += "  " + line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[l] logs  [esc] back  [q] quit")

	return s
}

func (a *App) viewNewRun() string {
	s := titleStyle.Render("New Run") + "\n\n"

	if len(a.taskIDs) == 0 {
		s += "  (no task files found)\n"
	} else {
		s += "Available tasks:\n"
		for i, id := range a.taskIDs {
			def := a.tasks[id]
			line := fmt.Sprintf("%-20s %-9s %s", id, def.Type, def.Language)
			if i == a.selectedTask {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] run  [esc] cancel")

	return s
}

func (a *App) viewLogs() string {
	s := titleStyle.Render("Logs") + "\n\n"

	if !a.logsAvailable {
		s += "(no logs)\n"
	} else {
		s += a.logs.View() + "\n"
	}

	s += helpStyle.Render("[↑/↓] scroll  [esc] back  [q] quit")

	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run     *models.Run
	metrics []*models.MetricPoint
	err     error
}

type runStartedMsg struct {
	run *models.Run
	err error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

type logsLoadedMsg struct {
	content string
	err     error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.orchestrator.ListRuns(20)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.orchestrator.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		metrics, err := a.orchestrator.MetricsForRun(id)
		return runDetailMsg{run: run, metrics: metrics, err: err}
	}
}

func (a *App) startRun(def *models.TaskDef) tea.Cmd {
	return func() tea.Msg {
		run, err := a.orchestrator.Run(context.Background(), def)
		return runStartedMsg{run: run, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.orchestrator.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func (a *App) loadLogs(runID int64) tea.Cmd {
	return func() tea.Msg {
		lines, err := a.orchestrator.LogsForRun(runID)
		if err != nil {
			return logsLoadedMsg{err: err}
		}
		return logsLoadedMsg{content: formatLogs(lines)}
	}
}

func formatLogs(lines []*models.LogLine) string {
	var b strings.Builder
	for _, line := range lines {
		level := line.Level
		switch level {
		case "ERROR":
			level = statusFailed.Render(level)
		case "WARN":
			level = statusRunning.Render(level)
		default:
			level = dimStyle.Render(level)
		}
		fmt.Fprintf(&b, "%s %-5s %s", line.Time.Local().Format("15:04:05.000"), level, line.Message)
		if stream, ok := line.Attrs["stream"].(string); ok {
			b.WriteString(" " + dimStyle.Render("["+stream+"]"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatOutputs pretty-prints the stored outputs JSON
func formatOutputs(outputs string) string {
	v, err := polyglot.DecodeJSON([]byte(outputs))
	if err != nil {
		return outputs
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return outputs
	}
	return string(data)
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
