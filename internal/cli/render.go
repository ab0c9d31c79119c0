package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/withObsrvr/forecast-retriever/internal/checkpoint"
	"github.com/withObsrvr/forecast-retriever/internal/retrieval"
)

var (
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF3333")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(failure).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

// interactive reports whether progress bars make sense on stdout.
func interactive() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgress returns a retrieval progress bar on stderr, or nil when
// stdout is not a terminal.
func newProgress(total int) *progressbar.ProgressBar {
	if !interactive() || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("retrieving"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s", mutedStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func count(n int, style lipgloss.Style) string {
	if n == 0 {
		return mutedStyle.Render("0")
	}
	return style.Render(fmt.Sprintf("%d", n))
}

// renderRun writes the tally of a run record.
func renderRun(w io.Writer, title string, run *checkpoint.Run) {
	lines := []string{
		titleStyle.Render(title),
		row("Run", run.RunID),
		row("Query", fmt.Sprintf("%s %s", run.QueryID, run.QueryName)),
		row("Model", fmt.Sprintf("%s / %s", run.Model, run.Mode)),
		row("Started", run.StartedAt.Format(time.RFC3339)),
		row("Duration", run.Duration().Round(time.Millisecond).String()),
		row("Planned", fmt.Sprintf("%d", run.Planned)),
		row("Committed", count(run.Committed, successStyle)),
		row("Rolled back", count(run.RolledBack, mutedStyle)),
		row("Failed", count(run.Failed, failureStyle)),
	}

	var flags []string
	if run.DryRun {
		flags = append(flags, "dry-run")
	}
	if run.SkipCost {
		flags = append(flags, "skip-cost")
	}
	if run.SkipQuery {
		flags = append(flags, "skip-query")
	}
	if len(flags) > 0 {
		lines = append(lines, row("Flags", strings.Join(flags, ", ")))
	}

	for _, f := range run.Failures {
		lines = append(lines, failureStyle.Render("✗ ")+fmt.Sprintf("%s %s [%s] %s", f.Issued, f.Area, f.Stage, f.Error))
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// renderSummary writes the result of a retrieval run.
func renderSummary(w io.Writer, run *checkpoint.Run, s retrieval.Summary) {
	title := "Retrieval complete"
	if !s.OK() {
		title = "Retrieval finished with failures"
	}
	if s.NotRun > 0 {
		title = fmt.Sprintf("Retrieval interrupted (%d not run)", s.NotRun)
	}
	renderRun(w, title, run)
}
