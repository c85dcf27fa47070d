package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/adtopia/adtopia/internal/engine/chunk"
)

// Layout constants.
const (
	defaultWidth  = 80
	maxBarWidth   = 60
	barPadding    = 4
	percentFactor = 100
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	countStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ProgressMsg reports the running totals of a bulk operation.
type ProgressMsg struct {
	Done   int
	Failed int
	Total  int
}

// DoneMsg ends the run. Err is nil on success.
type DoneMsg struct {
	Err error
}

// ProgressModel renders a titled progress bar for a bulk operation.
//
//nolint:recvcheck // Bubble Tea requires value receivers for Init/Update/View interface methods.
type ProgressModel struct {
	title string
	bar   progress.Model
	width int

	// tracker is shared by copies of the model.
	tracker *chunk.Progress

	finished bool
	quitting bool
	err      error
}

// NewProgressModel creates a model for a run of total items.
func NewProgressModel(title string, total int) ProgressModel {
	return ProgressModel{
		title: title,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		width:   defaultWidth,
		tracker: chunk.NewProgress(total, 0),
	}
}

// Init initializes the model (Bubble Tea interface).
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model state (Bubble Tea interface).
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-barPadding, 1), maxBarWidth)
		return m, nil

	case ProgressMsg:
		m.tracker.Set(msg.Done, msg.Failed, msg.Total)
		return m, nil

	case DoneMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the model (Bubble Tea interface).
func (m ProgressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n")

	snap := m.tracker.Snapshot()
	counts := fmt.Sprintf("%d/%d processed", snap.ProcessedItems+snap.FailedItems, snap.TotalItems)
	b.WriteString(countStyle.Render(counts))
	if snap.FailedItems > 0 {
		b.WriteString("  ")
		b.WriteString(failedStyle.Render(fmt.Sprintf("%d failed", snap.FailedItems)))
	}
	if snap.ItemsPerSecond > 0 {
		b.WriteString(countStyle.Render(fmt.Sprintf("  %.1f/s", snap.ItemsPerSecond)))
	}
	if snap.Remaining > 0 && !m.finished {
		b.WriteString(helpStyle.Render("  ETA " + snap.Remaining.Round(time.Second).String()))
	}
	b.WriteString("\n")

	switch {
	case m.finished && m.err != nil:
		b.WriteString(failedStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	case m.finished:
		b.WriteString(successStyle.Render("Done"))
		b.WriteString("\n")
	case m.quitting:
		b.WriteString(helpStyle.Render("Cancelling..."))
		b.WriteString("\n")
	default:
		b.WriteString(helpStyle.Render("ctrl+c to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// Percent returns the settled fraction in [0, 1].
func (m ProgressModel) Percent() float64 {
	return m.tracker.PercentComplete() / percentFactor
}

// Rate returns settled items per second since the model was created.
func (m ProgressModel) Rate() float64 {
	return m.tracker.ItemsPerSecond()
}

// Remaining estimates the time left from the rate so far.
func (m ProgressModel) Remaining() time.Duration {
	return m.tracker.EstimatedTimeRemaining()
}

// Cancelled reports whether the user asked to stop the run.
func (m ProgressModel) Cancelled() bool {
	return m.quitting
}

// Err returns the error the run finished with.
func (m ProgressModel) Err() error {
	return m.err
}

// PlainLine formats a progress update for non-interactive output.
func PlainLine(title string, msg ProgressMsg) string {
	pct := 0
	if msg.Total > 0 {
		pct = (msg.Done + msg.Failed) * percentFactor / msg.Total
	}
	line := fmt.Sprintf("%s: %d/%d (%d%%)", title, msg.Done+msg.Failed, msg.Total, pct)
	if msg.Failed > 0 {
		line += fmt.Sprintf(", %d failed", msg.Failed)
	}
	return line
}
