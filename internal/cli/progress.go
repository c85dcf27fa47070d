package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/tui"
)

// plainInterval throttles plain progress lines.
const plainInterval = time.Second

// progressMode returns the effective progress mode. auto picks the TUI only
// when stderr is a terminal.
func progressMode(cmd *cobra.Command, cfg *config.Config) string {
	mode, _ := cmd.Flags().GetString("progress")
	if mode == "" {
		mode = cfg.Output.Progress
	}
	if mode != config.ProgressAuto && mode != "" {
		return mode
	}
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && isTerminal(f) {
		return config.ProgressTUI
	}
	return config.ProgressPlain
}

// workFunc runs a bulk operation, reporting through report.
type workFunc func(ctx context.Context, report bulk.ProgressFunc) error

// runWithProgress runs work while displaying its progress in the given mode.
// In TUI mode, quitting the display cancels the work.
func runWithProgress(cmd *cobra.Command, mode, title string, total int, work workFunc) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	switch mode {
	case config.ProgressTUI:
		return runTUI(ctx, cancel, cmd, title, total, work)
	case config.ProgressPlain:
		return work(ctx, plainReporter(cmd.ErrOrStderr(), title))
	default:
		return work(ctx, func(bulk.Progress) {})
	}
}

func runTUI(ctx context.Context, cancel context.CancelFunc, cmd *cobra.Command, title string, total int, work workFunc) error {
	program := tea.NewProgram(
		tui.NewProgressModel(title, total),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.ErrOrStderr()),
	)

	done := make(chan error, 1)
	go func() {
		err := work(ctx, func(p bulk.Progress) {
			program.Send(tui.ProgressMsg{Done: p.Done, Failed: p.Failed, Total: p.Total})
		})
		program.Send(tui.DoneMsg{Err: err})
		done <- err
	}()

	final, runErr := program.Run()
	if m, ok := final.(tui.ProgressModel); ok && m.Cancelled() {
		cancel()
	}
	if runErr != nil {
		// The display failed; the work still finishes without it.
		logger.Debug().Err(runErr).Msg("progress display stopped")
	}
	return <-done
}

// plainReporter prints at most one line per plainInterval, plus the final one.
func plainReporter(w io.Writer, title string) bulk.ProgressFunc {
	var last time.Time
	return func(p bulk.Progress) {
		finished := p.Done+p.Failed >= p.Total
		if !finished && time.Since(last) < plainInterval {
			return
		}
		last = time.Now()
		_, _ = fmt.Fprintln(w, tui.PlainLine(title, tui.ProgressMsg{Done: p.Done, Failed: p.Failed, Total: p.Total}))
	}
}
