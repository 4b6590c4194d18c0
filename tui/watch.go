// ABOUTME: Bubble Tea model that polls a run until it reaches a terminal status.
// ABOUTME: Runs can be fetched from the HTTP API or directly from a local executor.
package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
)

// FetchFunc loads the current state of a run.
type FetchFunc func(ctx context.Context, runID string) (*engine.Run, error)

// ExecutorFetcher reads runs from a local executor.
func ExecutorFetcher(exec *engine.Executor) FetchFunc {
	return func(_ context.Context, runID string) (*engine.Run, error) {
		return exec.Status(runID)
	}
}

// HTTPFetcher reads runs from GET {baseURL}/api/runs/{id}.
func HTTPFetcher(baseURL, token string, client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(ctx context.Context, runID string) (*engine.Run, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/runs/"+runID, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, &content.NotFoundError{Resource: "run", ID: runID}
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("fetch run %s: status %d: %s", runID, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var run engine.Run
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", runID, err)
		}
		return &run, nil
	}
}

// RunMsg carries the result of one fetch.
type RunMsg struct {
	Run *engine.Run
	Err error
}

// PollMsg asks the model to fetch the run again.
type PollMsg struct {
	Time time.Time
}

// FetchRunCmd fetches the run once.
func FetchRunCmd(ctx context.Context, fetch FetchFunc, runID string) tea.Cmd {
	return func() tea.Msg {
		run, err := fetch(ctx, runID)
		return RunMsg{Run: run, Err: err}
	}
}

// PollCmd schedules the next fetch after interval.
func PollCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return PollMsg{Time: t}
	})
}

// maxFetchFailures is how many consecutive fetch errors end the watch.
const maxFetchFailures = 5

// WatchModel renders a run and refreshes it until it is terminal.
type WatchModel struct {
	ctx      context.Context
	fetch    FetchFunc
	runID    string
	interval time.Duration
	spinner  spinner.Model
	start    time.Time

	run      *engine.Run
	err      error
	failures int
	done     bool
	width    int
}

// NewWatchModel creates a watcher for runID polling every interval.
func NewWatchModel(ctx context.Context, fetch FetchFunc, runID string, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = RunningStyle
	return WatchModel{
		ctx:      ctx,
		fetch:    fetch,
		runID:    runID,
		interval: interval,
		spinner:  sp,
		start:    time.Now(),
	}
}

// Run returns the last fetched run, or nil.
func (m WatchModel) Run() *engine.Run { return m.run }

// Err returns the error that ended the watch, if any.
func (m WatchModel) Err() error { return m.err }

// Done reports whether the watch has finished.
func (m WatchModel) Done() bool { return m.done }

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, FetchRunCmd(m.ctx, m.fetch, m.runID))
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case RunMsg:
		return m.handleRun(msg)

	case PollMsg:
		if m.done {
			return m, nil
		}
		return m, FetchRunCmd(m.ctx, m.fetch, m.runID)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) handleRun(msg RunMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.failures++
		if errors.Is(msg.Err, content.ErrNotFound) || m.failures >= maxFetchFailures {
			m.err = msg.Err
			m.done = true
			return m, tea.Quit
		}
		return m, PollCmd(m.interval)
	}

	m.failures = 0
	m.run = msg.Run
	if !m.run.Pending() {
		m.done = true
		return m, tea.Quit
	}
	return m, PollCmd(m.interval)
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.run == nil {
		if m.err != nil {
			return FailedStyle.Render("error: "+m.err.Error()) + "\n"
		}
		return m.spinner.View() + " loading run " + m.runID + "...\n"
	}

	frame := ""
	if !m.done {
		frame = m.spinner.View()
	}
	body := RenderRun(m.run, frame)
	if m.width > 0 {
		body = BorderStyle.Width(m.width - 2).Render(body)
	} else {
		body = BorderStyle.Render(body)
	}

	bar := fmt.Sprintf("Run: %s | Elapsed: %s | %d/%d steps | %s",
		m.runID, formatElapsed(time.Since(m.start)), m.run.Count(plan.StatusSucceeded), len(m.run.Steps), m.run.Status)
	if m.err != nil {
		bar += " | error: " + m.err.Error()
	}
	if !m.done {
		bar += " | q to detach"
	}
	return body + "\n" + StatusBarStyle.Render(bar) + "\n"
}
