package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"plugin-jobs/internal/model"
	"plugin-jobs/internal/plugin"
)

type watchMode int

const (
	watchModeBrowse watchMode = iota
	watchModeFilter
	watchModeCancelConfirm
)

const watchRecentEvents = 6

// jobsAPI is the part of the server API the monitor uses.
type jobsAPI interface {
	ListJobs(ctx context.Context, userID, status string) ([]apiJob, error)
	Events(ctx context.Context, jobID string) ([]plugin.Event, error)
	Cancel(ctx context.Context, jobID, userID string) (apiOutcome, error)
}

type watchModel struct {
	api        jobsAPI
	userID     string
	interval   time.Duration
	activeOnly bool

	jobs      []apiJob
	events    []plugin.Event
	eventsFor string
	cursor    int
	width     int
	height    int
	mode      watchMode

	filter  textinput.Model
	spinner spinner.Model
	bar     progress.Model

	confirmJobID  string
	statusMessage string
	updatedAt     time.Time
}

type watchJobsMsg struct {
	jobs []apiJob
	err  error
	at   time.Time
}

type watchEventsMsg struct {
	jobID  string
	events []plugin.Event
	err    error
}

type watchCancelMsg struct {
	out apiOutcome
	err error
}

type watchTickMsg time.Time

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	watchSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		serverAddr string
		user       string
		interval   time.Duration
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live monitor for the jobs of a running server",
		Long: `Live monitor for the jobs of a running server.

Keys: up/down move, / filter, a toggle finished jobs, c cancel, r refresh, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !stdinIsTTY() {
				return errors.New("watch requires an interactive terminal (TTY)")
			}
			m := newWatchModel(newAPIClient(firstNonEmpty(serverAddr, a.settings.ServerAddr)), user, interval)
			m.activeOnly = !all
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "tty") {
					return errors.New("watch requires an interactive terminal (TTY)")
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "", "server address (default: server.addr setting)")
	cmd.Flags().StringVar(&user, "user", "", "only jobs of this user")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval")
	cmd.Flags().BoolVar(&all, "all", false, "include finished jobs")
	return cmd
}

func newWatchModel(api jobsAPI, userID string, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = time.Second
	}
	filter := textinput.New()
	filter.Prompt = "/ "
	filter.Placeholder = "title, plugin, status or id"
	filter.CharLimit = 128

	return watchModel{
		api:        api,
		userID:     strings.TrimSpace(userID),
		interval:   interval,
		activeOnly: true,
		filter:     filter,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.loadJobsCmd(), m.spinner.Tick, m.tickCmd())
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) loadJobsCmd() tea.Cmd {
	api, user := m.api, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs, err := api.ListJobs(ctx, user, "")
		return watchJobsMsg{jobs: jobs, err: err, at: time.Now()}
	}
}

func (m watchModel) loadEventsCmd(jobID string) tea.Cmd {
	if jobID == "" {
		return nil
	}
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events, err := api.Events(ctx, jobID)
		return watchEventsMsg{jobID: jobID, events: events, err: err}
	}
}

func (m watchModel) cancelCmd(job apiJob) tea.Cmd {
	api := m.api
	owner := firstNonEmpty(m.userID, job.OwnerID)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := api.Cancel(ctx, job.ID, owner)
		return watchCancelMsg{out: out, err: err}
	}
}

// visibleJobs applies the active-only toggle and the filter text.
func (m watchModel) visibleJobs() []apiJob {
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	out := make([]apiJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if m.activeOnly && !model.IsActive(j.Status) {
			continue
		}
		if needle != "" {
			hay := strings.ToLower(strings.Join([]string{j.Title(), j.PluginName, j.Status, j.ID, j.Params["url"]}, " "))
			if !strings.Contains(hay, needle) {
				continue
			}
		}
		out = append(out, j)
	}
	return out
}

func (m watchModel) selected() (apiJob, bool) {
	jobs := m.visibleJobs()
	if m.cursor < 0 || m.cursor >= len(jobs) {
		return apiJob{}, false
	}
	return jobs[m.cursor], true
}

func (m watchModel) clampCursor() watchModel {
	total := len(m.visibleJobs())
	if m.cursor > total-1 {
		m.cursor = total - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return m
}

// selectionChanged drops stale events and fetches those of the new selection.
func (m watchModel) selectionChanged() (watchModel, tea.Cmd) {
	job, ok := m.selected()
	if !ok {
		m.events, m.eventsFor = nil, ""
		return m, nil
	}
	if job.ID != m.eventsFor {
		m.events, m.eventsFor = nil, job.ID
	}
	return m, m.loadEventsCmd(job.ID)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filter.Width = clampInt(m.width-8, 20, 120)
		return m, nil
	case watchTickMsg:
		return m, tea.Batch(m.loadJobsCmd(), m.tickCmd())
	case watchJobsMsg:
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.jobs = msg.jobs
		m.updatedAt = msg.at
		if strings.HasPrefix(m.statusMessage, "error:") {
			m.statusMessage = ""
		}
		m = m.clampCursor()
		return m.selectionChanged()
	case watchEventsMsg:
		if msg.err == nil && msg.jobID == m.eventsFor {
			m.events = msg.events
		}
		return m, nil
	case watchCancelMsg:
		m.mode = watchModeBrowse
		m.confirmJobID = ""
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.statusMessage = firstLine(msg.out.Message)
		return m, m.loadJobsCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case watchModeFilter:
		return m.updateFilter(keyMsg)
	case watchModeCancelConfirm:
		return m.updateCancelConfirm(keyMsg)
	default:
		return m.updateBrowse(keyMsg)
	}
}

func (m watchModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m.selectionChanged()
	case "down", "j":
		if m.cursor < len(m.visibleJobs())-1 {
			m.cursor++
		}
		return m.selectionChanged()
	case "r":
		m.statusMessage = "refreshing..."
		return m, m.loadJobsCmd()
	case "a":
		m.activeOnly = !m.activeOnly
		if m.activeOnly {
			m.statusMessage = "showing active jobs"
		} else {
			m.statusMessage = "showing all jobs"
		}
		m = m.clampCursor()
		return m.selectionChanged()
	case "/":
		m.mode = watchModeFilter
		return m, m.filter.Focus()
	case "c":
		job, ok := m.selected()
		if !ok {
			m.statusMessage = "select a job to cancel"
			return m, nil
		}
		if !model.IsActive(job.Status) {
			m.statusMessage = fmt.Sprintf("job %s is no longer active (status: %s)", job.ShortID, job.Status)
			return m, nil
		}
		m.mode = watchModeCancelConfirm
		m.confirmJobID = job.ID
		return m, nil
	}
	return m, nil
}

func (m watchModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filter.SetValue("")
		m.filter.Blur()
		m.mode = watchModeBrowse
		m = m.clampCursor()
		return m.selectionChanged()
	case "enter":
		m.filter.Blur()
		m.mode = watchModeBrowse
		m = m.clampCursor()
		return m.selectionChanged()
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.cursor = 0
	return m, cmd
}

func (m watchModel) updateCancelConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "n":
		m.mode = watchModeBrowse
		m.confirmJobID = ""
		m.statusMessage = "cancel aborted"
		return m, nil
	case "y", "enter":
		for _, j := range m.jobs {
			if j.ID == m.confirmJobID {
				m.statusMessage = "cancelling " + j.ShortID + "..."
				return m, m.cancelCmd(j)
			}
		}
		m.mode = watchModeBrowse
		m.confirmJobID = ""
		m.statusMessage = "job is gone"
		return m, nil
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}
	if m.mode == watchModeCancelConfirm {
		return m.viewCancelConfirm()
	}

	scope := "all users"
	if m.userID != "" {
		scope = "user " + m.userID
	}
	header := watchTitleStyle.Render("plugin-jobs watch") + watchMutedStyle.Render("  "+scope) + "\n" +
		watchMutedStyle.Render("up/down: move | /: filter | a: toggle finished | c: cancel | r: refresh | q: quit")
	if m.mode == watchModeFilter || m.filter.Value() != "" {
		header += "\n" + m.filter.View()
	}

	var body string
	if m.width < 90 {
		body = lipgloss.JoinVertical(lipgloss.Left, m.renderListPanel(m.width), m.renderDetailsPanel(m.width))
	} else {
		leftW := clampInt(m.width/2, 40, 64)
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderListPanel(leftW), m.renderDetailsPanel(m.width-leftW-1))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusLine(m.width))
}

func (m watchModel) renderListPanel(width int) string {
	jobs := m.visibleJobs()
	maxRows := clampInt(m.height-12, 4, 24)
	start, end := listWindow(len(jobs), m.cursor, maxRows)

	lines := make([]string, 0, maxRows+2)
	if len(jobs) == 0 {
		if m.activeOnly {
			lines = append(lines, watchMutedStyle.Render("No active jobs."))
			lines = append(lines, watchMutedStyle.Render("Press a to include finished jobs."))
		} else {
			lines = append(lines, watchMutedStyle.Render("No jobs."))
		}
	}
	if start > 0 {
		lines = append(lines, watchMutedStyle.Render("..."))
	}
	for i := start; i < end; i++ {
		j := jobs[i]
		line := fmt.Sprintf("%s %s  %-9s %s", m.statusGlyph(j.Status), j.ShortID, j.Status, j.Title())
		if j.Playlist != nil {
			line += fmt.Sprintf("  %d/%d", j.Playlist.Attempted(), j.Playlist.Total)
		}
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == m.cursor {
			line = watchSelStyle.Width(maxInt(width-4, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	if end < len(jobs) {
		lines = append(lines, watchMutedStyle.Render("..."))
	}
	return watchPanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m watchModel) statusGlyph(status string) string {
	switch status {
	case model.StatusRunning:
		return m.spinner.View()
	case model.StatusPending:
		return "…"
	case model.StatusCompleted:
		return watchOKStyle.Render("✓")
	case model.StatusFailed:
		return watchErrorStyle.Render("✗")
	default:
		return watchMutedStyle.Render("-")
	}
}

func (m watchModel) renderDetailsPanel(width int) string {
	job, ok := m.selected()
	if !ok {
		return watchPanelStyle.Width(width).Render("Select a job to see details.")
	}

	lines := []string{
		"Job Details",
		"",
		kv("id", job.ID),
		kv("plugin", job.PluginName),
		kv("owner", job.OwnerID),
		kv("status", model.Summary(job.Job)),
	}
	if job.Phase != "" {
		lines = append(lines, kv("phase", job.Phase))
	}
	if url := job.Params["url"]; url != "" {
		lines = append(lines, kv("url", url))
	}
	lines = append(lines, kv("created", job.CreatedAt.Local().Format(time.DateTime)))
	if !job.StartedAt.IsZero() {
		end := job.FinishedAt
		if end.IsZero() {
			end = time.Now()
		}
		lines = append(lines, kv("elapsed", end.Sub(job.StartedAt).Round(time.Second).String()))
	}
	if job.Playlist != nil {
		bar := m.bar
		bar.Width = clampInt(width-16, 10, 60)
		lines = append(lines, "", fmt.Sprintf("%s %3.0f%%", bar.ViewAs(job.Progress/100), job.Progress))
	}
	if job.Error != "" {
		lines = append(lines, "", watchErrorStyle.Render("error: ")+firstLine(job.Error))
	}
	if recent := m.recentEventLines(); len(recent) > 0 {
		lines = append(lines, "", "Recent events")
		lines = append(lines, recent...)
	}

	for i := range lines {
		lines[i] = wrapOrTrim(lines[i], maxInt(width-6, 12))
	}
	return watchPanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m watchModel) recentEventLines() []string {
	events := m.events
	if len(events) > watchRecentEvents {
		events = events[len(events)-watchRecentEvents:]
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		ts := ev.Time.Local().Format(time.TimeOnly)
		switch {
		case ev.Progress != nil:
			p := ev.Progress
			mark := watchOKStyle.Render("ok")
			if !p.OK {
				mark = watchErrorStyle.Render("failed")
			}
			lines = append(lines, fmt.Sprintf("%s  %d/%d %s %s", ts, p.Index+1, p.Total, mark, p.Title))
		default:
			lines = append(lines, fmt.Sprintf("%s  %s: %s", ts, ev.Status, firstLine(ev.Message)))
		}
	}
	return lines
}

func (m watchModel) renderStatusLine(width int) string {
	msg := strings.TrimSpace(m.statusMessage)
	style := watchMutedStyle
	switch {
	case msg == "" && !m.updatedAt.IsZero():
		msg = fmt.Sprintf("%d jobs, updated %s", len(m.jobs), m.updatedAt.Local().Format(time.TimeOnly))
	case msg == "":
		msg = "loading jobs..."
	case strings.HasPrefix(msg, "error:"):
		style = watchErrorStyle
	case strings.HasPrefix(msg, "Cancelled"):
		style = watchOKStyle
	}
	return style.Width(width).Render(truncateRunes(msg, maxInt(width-2, 10)))
}

func (m watchModel) viewCancelConfirm() string {
	title := m.confirmJobID
	for _, j := range m.jobs {
		if j.ID == m.confirmJobID {
			title = fmt.Sprintf("%s (%s)", j.ShortID, j.Title())
		}
	}
	text := fmt.Sprintf(
		"Cancel job %s?\n\nItems already transcribed are kept.\nThe item in progress finishes but is discarded.\n\nPress y or Enter to confirm, n or Esc to keep it running.",
		title,
	)
	boxW := clampInt(m.width-8, 36, 80)
	boxH := clampInt(m.height-6, 9, 14)
	panel := watchPanelStyle.Width(boxW).Height(boxH).Render(text)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
