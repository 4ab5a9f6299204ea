package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
)

// Format selects how tables are rendered.
type Format int

const (
	FormatPlain Format = iota
	FormatMarkdown
)

const timeLayout = "2006-01-02 15:04"

// ChainTable renders the fork chain, one row per node.
func ChainTable(state *domain.State, format Format, p termenv.Profile) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Repo", "Status", "Identity", "Quota (h)", "Updated"})
	for i, n := range state.Nodes {
		status := string(n.Status)
		if format == FormatPlain {
			status = StatusMarker(n.Status, p)
		}
		quota := ""
		if n.QuotaUsed > 0 {
			quota = fmt.Sprintf("%.1f", n.QuotaUsed)
		}
		tw.AppendRow(table.Row{i, n.Repo, status, n.IdentityIndex, quota, formatTime(n.UpdatedAt)})
	}
	return render(tw, format)
}

// QuotaTable renders one row per report.
func QuotaTable(reports []domain.QuotaReport, format Format, p termenv.Profile) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Identity", "Minutes", "Hours", "Remaining", "State"})
	for _, r := range reports {
		state := QuotaState(r)
		if format == FormatPlain {
			state = QuotaMarker(r, p)
		}
		tw.AppendRow(table.Row{
			r.Identity,
			fmt.Sprintf("%.0f", r.ConsumedMinutes),
			fmt.Sprintf("%.1f", r.HoursEquivalent),
			fmt.Sprintf("%.1f", r.RemainingHours),
			state,
		})
	}
	return render(tw, format)
}

// StatusMarkdown is the full status report rendered through glamour on a TTY.
func StatusMarkdown(state *domain.State) string {
	var sb strings.Builder
	sb.WriteString("# Fork chain\n\n")

	if idx := state.Active(); idx >= 0 {
		n := state.Nodes[idx]
		sb.WriteString(fmt.Sprintf("Active fork **%s** on identity **#%d**.\n\n", n.Repo, n.IdentityIndex))
	} else {
		sb.WriteString("No active fork: rotation has stalled until the next fork is created.\n\n")
	}
	sb.WriteString(fmt.Sprintf("Current identity **#%d** of %d.", state.ActiveIndex, state.TotalIdentities))
	if state.LastRotation != nil {
		sb.WriteString(fmt.Sprintf(" Last rotation %s.", formatTime(*state.LastRotation)))
	}
	sb.WriteString("\n\n")

	if len(state.Nodes) == 0 {
		sb.WriteString("_The chain is empty. Register the source repository first._\n")
		return sb.String()
	}
	sb.WriteString(ChainTable(state, FormatMarkdown, termenv.Ascii))
	sb.WriteString("\n")
	return sb.String()
}

// QuotaState is the textual classification of a report.
func QuotaState(r domain.QuotaReport) string {
	switch {
	case r.Assumed:
		return "unknown (assumed exhausted)"
	case r.IsExhausted:
		return "exhausted"
	case r.IsWarning:
		return "warning"
	default:
		return "ok"
	}
}

// QuotaMarker is QuotaState colored for the terminal.
func QuotaMarker(r domain.QuotaReport, p termenv.Profile) string {
	color := "#22c55e"
	switch {
	case r.IsExhausted:
		color = "#ef4444"
	case r.IsWarning:
		color = "#f59e0b"
	}
	return p.String(QuotaState(r)).Foreground(p.Color(color)).String()
}

// StatusMarker is a node status colored for the terminal.
func StatusMarker(s domain.ForkStatus, p termenv.Profile) string {
	color := "#9ca3af"
	switch s {
	case domain.StatusSource:
		color = "#a78bfa"
	case domain.StatusActive:
		color = "#22c55e"
	case domain.StatusExhausted:
		color = "#f59e0b"
	}
	return p.String(string(s)).Foreground(p.Color(color)).String()
}

func render(tw table.Writer, format Format) string {
	if format == FormatMarkdown {
		return tw.RenderMarkdown()
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
