package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fieldsync/backend"
	fsync "fieldsync/backend/sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// borderWidth keeps boxes readable on very narrow and very wide terminals
func borderWidth(termWidth int) int {
	w := termWidth - 2
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func header(w io.Writer, title string, width int) {
	text := "─ " + title + " "
	pad := width - lipgloss.Width(text)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(w, "\n%s\n", headerStyle.Render("┌"+text+strings.Repeat("─", pad)+"┐"))
}

func footer(w io.Writer, width int) {
	fmt.Fprintln(w, headerStyle.Render("└"+strings.Repeat("─", width)+"┘"))
}

// syncStatusStyle colors a task's sync state
func syncStatusStyle(s backend.SyncStatus) lipgloss.Style {
	switch s {
	case backend.SyncStatusPending:
		return warnStyle
	case backend.SyncStatusFailed:
		return errStyle
	default:
		return okStyle
	}
}

// HealthStyle colors a health status
func HealthStyle(s fsync.HealthStatus) lipgloss.Style {
	switch s {
	case fsync.HealthHealthy:
		return okStyle
	case fsync.HealthDegraded, fsync.HealthStale:
		return warnStyle
	default:
		return errStyle
	}
}

// ShowTasks renders tasks with their status and sync state
func ShowTasks(w io.Writer, tasks []backend.Task, termWidth int) {
	width := borderWidth(termWidth)
	header(w, fmt.Sprintf("Tasks (%d)", len(tasks)), width)

	if len(tasks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  No tasks"))
	}
	for i, t := range tasks {
		fmt.Fprintf(w, "  %s %-14s %-7s %-16s %s\n",
			dimStyle.Render(fmt.Sprintf("%2d.", i+1)),
			truncate(t.ID, 14),
			string(t.Type),
			string(t.Status),
			syncStatusStyle(t.SyncStatus).Render(string(t.SyncStatus)),
		)
		line := t.CustomerName
		if t.CustomerAddress != "" {
			line += ", " + t.CustomerAddress
		}
		fmt.Fprintf(w, "      %s\n", dimStyle.Render(truncate(line, width-6)))
		if next := backend.AvailableActions(t.Type, t.Status); len(next) > 0 {
			names := make([]string, len(next))
			for j, a := range next {
				names[j] = string(a)
			}
			fmt.Fprintf(w, "      %s\n", dimStyle.Render("next: "+strings.Join(names, ", ")))
		}
	}
	footer(w, width)
}

// ShowStatus renders store counters and a health snapshot
func ShowStatus(w io.Writer, stats backend.StoreStats, snap *fsync.HealthSnapshot, termWidth int) {
	width := borderWidth(termWidth)
	header(w, "Sync Status", width)

	fmt.Fprintf(w, "  Tasks:              %d\n", stats.TaskCount)
	fmt.Fprintf(w, "  Pending tasks:      %s\n", countStyle(stats.PendingTasks, warnStyle))
	fmt.Fprintf(w, "  Failed tasks:       %s\n", countStyle(stats.FailedTasks, errStyle))
	fmt.Fprintf(w, "  Unsynced actions:   %s\n", countStyle(stats.UnsyncedActions, warnStyle))
	fmt.Fprintf(w, "  Quarantined:        %s\n", countStyle(stats.QuarantinedActions, errStyle))

	if snap != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Health:             %s\n", HealthStyle(snap.Status).Render(string(snap.Status)))
		fmt.Fprintf(w, "  Last success:       %s\n", formatLastSuccess(snap.LastSuccessfulSync))
		fmt.Fprintf(w, "  Consecutive fails:  %d\n", snap.ConsecutiveFailures)
		fmt.Fprintf(w, "  Syncs / failures:   %d / %d\n", snap.TotalSyncs, snap.TotalFailures)
	}
	footer(w, width)
}

// ShowQueue renders unsynced actions; quarantined ones are flagged
func ShowQueue(w io.Writer, actions []backend.TaskAction, maxRetries int, termWidth int) {
	width := borderWidth(termWidth)
	header(w, fmt.Sprintf("Sync Queue (%d)", len(actions)), width)

	if len(actions) == 0 {
		fmt.Fprintln(w, okStyle.Render("  Nothing to sync"))
	}
	for _, a := range actions {
		retries := fmt.Sprintf("%d/%d", a.RetryCount, maxRetries)
		state := warnStyle.Render("queued")
		switch {
		case a.RetryCount >= maxRetries:
			state = errStyle.Render("quarantined")
		case strings.HasPrefix(a.TaskID, backend.LocalIDPrefix):
			state = dimStyle.Render("awaiting task")
		}
		fmt.Fprintf(w, "  %s %-14s %-13s %-5s %s\n",
			time.UnixMilli(a.Timestamp).Format("01-02 15:04"),
			truncate(a.TaskID, 14),
			string(a.ActionType),
			retries,
			state,
		)
		if a.LastError != "" {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render(truncate(a.LastError, width-6)))
		}
	}
	footer(w, width)
}

// ShowSyncResult prints the outcome of a sync run in one line
func ShowSyncResult(w io.Writer, result fsync.SyncResult) {
	switch r := result.(type) {
	case fsync.Success:
		fmt.Fprintln(w, okStyle.Render("✓ "+r.String()))
	case fsync.PartialSuccess:
		fmt.Fprintln(w, warnStyle.Render("! "+r.String()))
	case fsync.Failure:
		fmt.Fprintln(w, errStyle.Render("✗ "+r.String()))
	default:
		fmt.Fprintln(w, dimStyle.Render("sync skipped: another sync is running"))
	}
}

func countStyle(n int, nonZero lipgloss.Style) string {
	s := fmt.Sprintf("%d", n)
	if n == 0 {
		return s
	}
	return nonZero.Render(s)
}

func formatLastSuccess(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 1 || len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
