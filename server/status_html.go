// ABOUTME: Renders a run's progress as the HTML fragment returned in definition_status.
// ABOUTME: Builds a markdown summary, converts it with goldmark, and wraps it in a template partial.
package server

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
)

var statusTemplate = template.Must(template.New("run_status").Parse(
	`<div class="run-status run-{{.Status}}" data-run-id="{{.ID}}" data-pending="{{.Pending}}">{{.Body}}</div>`))

var md = goldmark.New()

type statusView struct {
	ID      string
	Status  plan.Status
	Pending bool
	Body    template.HTML
}

var stepMarks = map[plan.Status]string{
	plan.StatusPending:   "[ ]",
	plan.StatusRunning:   "[~]",
	plan.StatusSucceeded: "[x]",
	plan.StatusFailed:    "[!]",
}

// runMarkdown summarizes the run and each of its steps.
func runMarkdown(run *engine.Run) string {
	var b strings.Builder
	label := run.Label
	if label == "" {
		label = "run"
	}
	fmt.Fprintf(&b, "**%s** `%s`: %s (%d/%d steps done)\n\n",
		label, run.ID, run.Status, run.Count(plan.StatusSucceeded), len(run.Steps))
	for _, st := range run.Steps {
		fmt.Fprintf(&b, "- %s `%s` %s", stepMarks[st.Status], st.ID, st.Status)
		if st.Error != "" {
			fmt.Fprintf(&b, ": %s", markdownEscape(st.Error))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// markdownEscape backslash-escapes characters goldmark would treat as markup.
func markdownEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune("\\`*_[]<>#|~", r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func renderStatusHTML(run *engine.Run) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(runMarkdown(run)), &body); err != nil {
		return "", fmt.Errorf("render run %s: %w", run.ID, err)
	}

	var out bytes.Buffer
	err := statusTemplate.Execute(&out, statusView{
		ID:      run.ID,
		Status:  run.Status,
		Pending: run.Pending(),
		Body:    template.HTML(body.String()),
	})
	if err != nil {
		return "", fmt.Errorf("render run %s: %w", run.ID, err)
	}
	return out.String(), nil
}
