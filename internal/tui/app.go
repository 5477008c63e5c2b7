package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/docforge/internal/correlate"
	"github.com/mpataki/docforge/internal/models"
	"github.com/mpataki/docforge/internal/orchestrator"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewNewRun
	ViewPager
)

type App struct {
	orchestrator *orchestrator.Orchestrator
	jobs         []*models.Job

	view               View
	runs               []*models.Run
	selectedIdx        int
	selectedRun        *models.Run
	attempts           []*models.Attempt
	selectedAttemptIdx int
	selectedJobIdx     int

	pager      viewport.Model
	pagerTitle string

	width  int
	height int
	err    error
}

func NewApp(orch *orchestrator.Orchestrator, jobs map[string]*models.Job) *App {
	list := make([]*models.Job, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].Name < list[k].Name })

	return &App{
		orchestrator: orch,
		jobs:         list,
		view:         ViewRunList,
		pager:        viewport.New(80, 20),
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
		if !run.Status.Terminal() {
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
		a.pager.Width = msg.Width
		a.pager.Height = max(msg.Height-4, 1)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.selectedRun = msg.run
		a.attempts = msg.attempts
		a.err = msg.err
		if a.err == nil {
			a.selectedAttemptIdx = 0
			a.view = ViewRunDetail
		}
		return a, nil

	case runStartedMsg:
		a.err = msg.err
		return a, a.loadRuns

	case runFinishedMsg:
		a.err = msg.err
		return a, a.loadRuns

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns

	case pagerLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.pagerTitle = msg.title
		a.pager.SetContent(msg.content)
		a.pager.GotoTop()
		a.view = ViewPager
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewNewRun:
		return a.handleNewRunKey(msg)
	case ViewPager:
		return a.handlePagerKey(msg)
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
		if run := a.currentRun(); run != nil {
			return a, a.loadRunDetail(run.ID)
		}

	case "n":
		a.selectedJobIdx = 0
		a.view = ViewNewRun

	case "r":
		return a, a.loadRuns

	case "d":
		if run := a.currentRun(); run != nil && run.Status.Terminal() {
			return a, a.deleteRun(run.ID)
		}
	}

	return a, nil
}

func (a *App) currentRun() *models.Run {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.runs) {
		return nil
	}
	return a.runs[a.selectedIdx]
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.attempts = nil
		a.selectedAttemptIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedAttemptIdx > 0 {
			a.selectedAttemptIdx--
		}

	case "down", "j":
		if a.selectedAttemptIdx < len(a.attempts)-1 {
			a.selectedAttemptIdx++
		}

	case "enter":
		if a.selectedAttemptIdx < len(a.attempts) {
			at := a.attempts[a.selectedAttemptIdx]
			return a, func() tea.Msg {
				return pagerLoadedMsg{
					title:   fmt.Sprintf("Attempt %d (%s)", at.Index+1, at.Stage),
					content: attemptText(at),
				}
			}
		}

	case "s":
		if a.selectedRun != nil {
			return a, a.loadSnippets(a.selectedRun)
		}
	}

	return a, nil
}

func (a *App) handleNewRunKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.view = ViewRunList

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedJobIdx > 0 {
			a.selectedJobIdx--
		}

	case "down", "j":
		if a.selectedJobIdx < len(a.jobs)-1 {
			a.selectedJobIdx++
		}

	case "enter":
		if a.selectedJobIdx < len(a.jobs) {
			a.view = ViewRunList
			return a, a.startJob(a.jobs[a.selectedJobIdx])
		}
	}

	return a, nil
}

func (a *App) handlePagerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		a.pager.SetContent("")
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.pager, cmd = a.pager.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewNewRun:
		return a.viewNewRun()
	case ViewPager:
		return a.viewPager()
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

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusExhausted = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Docforge") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Press 'n' to start one.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := formatRunLine(run)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case run.Status.Terminal():
				line = "  " + dimStyle.Render(line)
			default:
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [n] new  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRunLine(run *models.Run) string {
	status := formatStatus(run.Status)
	age := formatAge(run.CreatedAt)
	return fmt.Sprintf("#%-3d %-18s %s  %-6s  %d attempt(s)  %s",
		run.ID, truncate(run.JobName, 18), status, age, run.Attempts, truncate(run.DocumentName, 30))
}

func formatAge(t time.Time) string {
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

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running")
	case models.RunStatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case models.RunStatusExhausted:
		return statusExhausted.Render("⚠ exhausted")
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

	header := fmt.Sprintf("Run #%d: %s", run.ID, run.JobName)
	s := titleStyle.Render(header) + "  " + formatStatus(run.Status) + "\n\n"

	s += labelStyle.Render("Directory: ") + dimStyle.Render(run.Dir) + "\n"
	if run.ArtifactPath != "" {
		s += labelStyle.Render("Document:  ") + dimStyle.Render(run.ArtifactPath) + "\n"
	}
	s += labelStyle.Render("Recovery:  ") + fmt.Sprintf("%d regeneration(s)", run.ErrorRecovery) + "\n"
	if run.Error != "" {
		s += labelStyle.Render("Error:     ") + statusFailed.Render(truncate(run.Error, 100)) + "\n"
	}
	s += "\n"

	s += "Attempts\n"
	s += "────────\n"

	if len(a.attempts) == 0 {
		s += "(no attempts yet)\n"
	} else {
		for i, at := range a.attempts {
			line := formatAttemptLine(at)
			if i == a.selectedAttemptIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] script  [s] snippets  [esc] back")

	return s
}

// formatAttemptLine renders "1. initial            ✓  120ms".
func formatAttemptLine(at *models.Attempt) string {
	mark := statusSucceeded.Render("✓")
	if !at.Outcome.Success {
		mark = statusFailed.Render("✗")
	}
	line := fmt.Sprintf("%d. %-18s %s  %6s", at.Index+1, at.Stage, mark,
		formatDuration(time.Duration(at.DurationMs)*time.Millisecond))
	if at.Outcome.Kind != models.FailureNone {
		line += "   " + string(at.Outcome.Kind)
	}
	return line
}

func (a *App) viewNewRun() string {
	s := titleStyle.Render("New Run") + "\n\n"

	if len(a.jobs) == 0 {
		s += "  (no jobs found)\n"
	}
	for i, j := range a.jobs {
		line := j.Name
		if j.Description != "" {
			line += "  " + dimStyle.Render(truncate(j.Description, 50))
		}
		if i == a.selectedJobIdx {
			s += selectedStyle.Render("▶ "+line) + "\n"
		} else {
			s += "  " + line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] start  [esc] cancel")

	return s
}

func (a *App) viewPager() string {
	s := titleStyle.Render(a.pagerTitle) + "\n\n"
	s += a.pager.View() + "\n"
	s += helpStyle.Render("[↑/↓] scroll  [esc] back")
	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run      *models.Run
	attempts []*models.Attempt
	err      error
}

type runStartedMsg struct {
	err error
}

type runFinishedMsg struct {
	runID int64
	err   error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

type pagerLoadedMsg struct {
	title   string
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

		attempts, err := a.orchestrator.GetAttemptsForRun(id)
		return runDetailMsg{run: run, attempts: attempts, err: err}
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

// startJob runs the whole loop off the UI goroutine. The list tick picks up
// the new run while it executes.
func (a *App) startJob(job *models.Job) tea.Cmd {
	orch := a.orchestrator.ForJob(job)
	return func() tea.Msg {
		ctx := context.Background()
		script, err := orch.InitialScript(ctx, job)
		if err != nil {
			return runStartedMsg{err: err}
		}
		run, err := orch.StartRun(job)
		if err != nil {
			return runStartedMsg{err: err}
		}
		_, err = orch.Run(ctx, run, script)
		return runFinishedMsg{runID: run.ID, err: err}
	}
}

func (a *App) loadSnippets(run *models.Run) tea.Cmd {
	return func() tea.Msg {
		pkg, err := a.orchestrator.Snippets(run)
		if err != nil {
			return pagerLoadedMsg{err: err}
		}
		content, err := correlate.Markdown(pkg)
		if err != nil {
			return pagerLoadedMsg{err: err}
		}
		if pkg.Len() == 0 {
			content = "(no snippets)"
		}
		return pagerLoadedMsg{title: fmt.Sprintf("Snippets for run #%d", run.ID), content: content}
	}
}

func attemptText(at *models.Attempt) string {
	var b strings.Builder
	if at.Outcome.Success {
		b.WriteString("Outcome: success\n\n")
	} else {
		fmt.Fprintf(&b, "Outcome: %s\n%s\n\n", at.Outcome.Kind, at.Outcome.Message)
	}
	for i, line := range strings.Split(at.Script.Source, "\n") {
		fmt.Fprintf(&b, "%4d  %s\n", i+1, line)
	}
	return b.String()
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
