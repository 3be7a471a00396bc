package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unkn0wn-root/resload/internal/history"
	"github.com/unkn0wn-root/resload/internal/loader"
	"github.com/unkn0wn-root/resload/internal/nettrace"
)

var (
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fd787"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	cancelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffaf00"))
	urlStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87afff"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a"))
)

func renderSummary(res loader.Result, rep *nettrace.Report, savedTo string) string {
	var b strings.Builder
	b.WriteString(badge(res.Status.String(), res.Status.IsSuccess()))
	b.WriteString(" ")
	b.WriteString(res.Method)
	b.WriteString(" ")
	b.WriteString(urlStyle.Render(res.URL))

	var details []string
	if code := res.Head.StatusCode(); code > 0 {
		details = append(details, fmt.Sprintf("%d", code))
	}
	if mime := res.Head.MimeType(); mime != "" {
		details = append(details, mime)
	}
	details = append(details, formatBytes(res.Bytes))
	if !res.Ended.IsZero() {
		details = append(details, "in "+res.Ended.Sub(res.Started).Round(time.Millisecond).String())
	}
	if n := len(res.Redirects); n > 0 {
		details = append(details, fmt.Sprintf("%d redirects to %s", n, res.Redirects[n-1]))
	}
	if res.BlockedBy != "" && !res.Status.IsSuccess() {
		details = append(details, "blocked by "+res.BlockedBy)
	}
	if savedTo != "" {
		details = append(details, "saved to "+savedTo)
	}
	b.WriteString("\n  ")
	b.WriteString(dimStyle.Render(strings.Join(details, " · ")))

	if res.Err != nil && !res.Status.IsSuccess() {
		b.WriteString("\n  ")
		b.WriteString(failStyle.Render(res.Err.Error()))
	}
	if rep != nil && len(rep.Timeline.Phases) > 0 {
		phases := make([]string, 0, len(rep.Timeline.Phases))
		for _, p := range rep.Timeline.Phases {
			phases = append(phases, fmt.Sprintf("%s %s", p.Kind, p.Duration.Round(time.Microsecond)))
		}
		if kind, _, ok := rep.Slowest(); ok {
			phases = append(phases, "slowest "+string(kind))
		}
		b.WriteString("\n  ")
		b.WriteString(dimStyle.Render(strings.Join(phases, "  ")))
	}
	if rep.Breached() {
		for _, br := range rep.Breaches {
			b.WriteString("\n  ")
			b.WriteString(cancelStyle.Render(fmt.Sprintf("%s over budget by %s (%s of %s)",
				br.Kind, br.Over.Round(time.Microsecond), br.Actual.Round(time.Microsecond), br.Limit)))
		}
	}
	return b.String()
}

func badge(status string, ok bool) string {
	switch {
	case ok:
		return okStyle.Render(strings.ToUpper(status))
	case strings.HasPrefix(status, "canceled"):
		return cancelStyle.Render(strings.ToUpper(status))
	default:
		return failStyle.Render(strings.ToUpper(status))
	}
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no loads recorded"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s %s %s  %s\n",
			dimStyle.Render(e.ExecutedAt.Local().Format("2006-01-02 15:04:05")),
			badge(e.Status, strings.HasPrefix(e.Status, "success")),
			e.Method,
			urlStyle.Render(e.URL),
			dimStyle.Render(fmt.Sprintf("%s in %s", formatBytes(e.Bytes), e.Duration.Round(time.Millisecond))),
		)
		if e.Trace.OverBudget() {
			fmt.Fprintf(w, "  %s\n", cancelStyle.Render(fmt.Sprintf("%d budget breaches, slowest %s", len(e.Trace.Breaches), e.Trace.Slowest)))
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
