// ABOUTME: Static rendering of a run record, shared by the watch view and the status command.
// ABOUTME: Lists each step with its marker, status, output, and error.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
)

// RenderRun renders the run header and step list. frame replaces the marker
// of running steps when non-empty.
func RenderRun(run *engine.Run, frame string) string {
	var b strings.Builder

	label := run.Label
	if label == "" {
		label = "run"
	}
	b.WriteString(TitleStyle.Render(fmt.Sprintf("=== %s %s ===", strings.ToUpper(label), run.ID)))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("entity") + ValueStyle.Render(run.EntityID) + "\n")
	b.WriteString(LabelStyle.Render("status") + StyleForStatus(run.Status).Render(string(run.Status)) + "\n")
	if run.Attempts > 1 {
		b.WriteString(LabelStyle.Render("attempts") + ValueStyle.Render(fmt.Sprint(run.Attempts)) + "\n")
	}
	b.WriteString("\n")

	for _, st := range run.Steps {
		icon := Icon(st.Status)
		if st.Status == plan.StatusRunning && frame != "" {
			icon = "[" + frame + "]"
		}
		line := fmt.Sprintf("  %s %-24s %s", icon, st.ID, st.Status)
		if d := stepDuration(st); d > 0 {
			line += " " + formatElapsed(d)
		}
		if out := formatOutput(st.Output); out != "" {
			line += "  " + out
		}
		b.WriteString(StyleForStatus(st.Status).Render(line))
		b.WriteString("\n")
		if st.Error != "" {
			b.WriteString(ErrorTextStyle.Render("      " + st.Error))
			b.WriteString("\n")
		}
	}

	if run.Error != "" && run.FailedStep == "" {
		b.WriteString(ErrorTextStyle.Render("  " + run.Error))
		b.WriteString("\n")
	}
	return b.String()
}

func stepDuration(st engine.StepState) time.Duration {
	if st.StartedAt == nil || st.CompletedAt == nil {
		return 0
	}
	return st.CompletedAt.Sub(*st.StartedAt)
}

// formatOutput renders step output as sorted key=value pairs.
func formatOutput(out plan.Output) string {
	if len(out) == 0 {
		return ""
	}
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + out[k]
	}
	return strings.Join(parts, " ")
}

// formatElapsed formats a duration as "12s" or "2m30s"; sub-second durations as milliseconds.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
