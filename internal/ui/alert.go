package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
)

var (
	okColor   = lipgloss.Color("10")
	warnColor = lipgloss.Color("11")
	errColor  = lipgloss.Color("9")

	titleStyle = lipgloss.NewStyle().Bold(true)
	nameStyle  = lipgloss.NewStyle().Bold(true).Width(20)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// AlertNotifier prints the end-of-run alert of a manual run.
type AlertNotifier struct {
	out io.Writer
}

var _ syncpkg.Notifier = (*AlertNotifier)(nil)

// NewAlertNotifier returns a notifier writing to out.
func NewAlertNotifier(out io.Writer) *AlertNotifier {
	return &AlertNotifier{out: out}
}

// Alert implements sync.Notifier.
func (n *AlertNotifier) Alert(result *syncpkg.RunResult) {
	fmt.Fprintln(n.out, RenderAlert(result))
}

// RenderAlert formats a run result as a bordered box.
func RenderAlert(result *syncpkg.RunResult) string {
	if result == nil {
		return ""
	}

	color := okColor
	title := "Sync complete"
	switch {
	case result.Errors > 0:
		color = errColor
		title = fmt.Sprintf("Sync finished with %s", plural(result.Errors, "error"))
	case result.Canceled:
		color = warnColor
		title = "Sync canceled"
	}

	lines := []string{titleStyle.Foreground(color).Render(title)}
	for _, a := range result.Accounts {
		lines = append(lines, accountLine(a))
	}
	if len(result.Accounts) == 0 {
		lines = append(lines, dimStyle.Render("No accounts to synchronize."))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("took %s", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))))

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1)
	return box.Render(strings.Join(lines, "\n"))
}

func accountLine(a syncpkg.AccountResult) string {
	name := a.Name
	if name == "" {
		name = string(a.AccountID)
	}
	var detail string
	switch {
	case a.Disabled:
		detail = "disabled"
		if a.DisabledReason != "" {
			detail += " (" + a.DisabledReason + ")"
		}
	case a.Outcome == syncpkg.OutcomeSkipped:
		detail = "skipped"
	default:
		s := a.Summary
		detail = fmt.Sprintf("local +%d ~%d -%d  remote +%d ~%d -%d",
			s.Local.Added, s.Local.Updated, s.Local.Removed,
			s.Remote.Added, s.Remote.Updated, s.Remote.Removed)
		if s.Conflicted > 0 {
			detail += fmt.Sprintf("  %s", plural(s.Conflicted, "conflict"))
		}
	}
	if a.Errors > 0 {
		detail += "  " + lipgloss.NewStyle().Foreground(errColor).Render(plural(a.Errors, "error"))
	}
	if a.Message != "" {
		detail += "\n" + dimStyle.Render("  "+a.Message)
	}
	return nameStyle.Render(name) + detail
}
