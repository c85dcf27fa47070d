package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adtopia/adtopia/internal/engine/chunk"
)

func update(t *testing.T, m ProgressModel, msg tea.Msg) (ProgressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(ProgressModel)
	require.True(t, ok)
	return pm, cmd
}

func TestProgressModel_ProgressMsg(t *testing.T) {
	m := NewProgressModel("Optimizing images", 10)
	assert.Nil(t, m.Init())
	assert.InDelta(t, 0.0, m.Percent(), 0.0001)

	m, cmd := update(t, m, ProgressMsg{Done: 3, Failed: 1, Total: 10})
	assert.Nil(t, cmd)
	assert.InDelta(t, 0.4, m.Percent(), 0.0001)

	view := m.View()
	assert.Contains(t, view, "Optimizing images")
	assert.Contains(t, view, "4/10 processed")
	assert.Contains(t, view, "1 failed")
	assert.Contains(t, view, "ctrl+c to cancel")
}

func TestProgressModel_ZeroTotalKeepsInitial(t *testing.T) {
	m := NewProgressModel("Importing", 5)
	m, _ = update(t, m, ProgressMsg{Done: 2})
	assert.Equal(t, 5, m.tracker.Total())
	assert.InDelta(t, 0.4, m.Percent(), 0.0001)
}

func TestProgressModel_PercentCapped(t *testing.T) {
	m := NewProgressModel("x", 2)
	m, _ = update(t, m, ProgressMsg{Done: 3, Total: 2})
	assert.InDelta(t, 1.0, m.Percent(), 0.0001)
}

func TestProgressModel_Done(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m := NewProgressModel("Downloading", 1)
		m, cmd := update(t, m, DoneMsg{})
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.NoError(t, m.Err())
		assert.Contains(t, m.View(), "Done")
	})

	t.Run("failure", func(t *testing.T) {
		m := NewProgressModel("Downloading", 1)
		m, _ = update(t, m, DoneMsg{Err: errors.New("no images could be downloaded")})
		require.Error(t, m.Err())
		assert.Contains(t, m.View(), "Error: no images could be downloaded")
	})
}

func TestProgressModel_CtrlCCancels(t *testing.T) {
	m := NewProgressModel("Importing", 3)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, m.Cancelled())
	assert.Contains(t, m.View(), "Cancelling...")
}

func TestProgressModel_WindowResize(t *testing.T) {
	m := NewProgressModel("x", 1)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 26, m.bar.Width)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 200, Height: 10})
	assert.Equal(t, maxBarWidth, m.bar.Width)
}

func TestProgressModel_RateAndETA(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	m := NewProgressModel("x", 10)
	m.tracker = chunk.NewProgress(10, 0, chunk.WithClock(func() time.Time { return now }))

	now = start.Add(2 * time.Second)
	m, _ = update(t, m, ProgressMsg{Done: 4, Total: 10})
	assert.InDelta(t, 2.0, m.Rate(), 0.0001)
	assert.Equal(t, 3*time.Second, m.Remaining())

	view := m.View()
	assert.Contains(t, view, "2.0/s")
	assert.Contains(t, view, "ETA 3s")

	m, _ = update(t, m, ProgressMsg{Done: 10, Total: 10})
	assert.Zero(t, m.Remaining())
	assert.NotContains(t, m.View(), "ETA")
}

func TestPlainLine(t *testing.T) {
	assert.Equal(t, "Importing: 0/0 (0%)", PlainLine("Importing", ProgressMsg{}))
	assert.Equal(t, "Optimizing: 5/10 (50%), 2 failed", PlainLine("Optimizing", ProgressMsg{Done: 3, Failed: 2, Total: 10}))
}
