// ABOUTME: TaskClient: JSON HTTP calls with bearer auth that submit remote jobs and poll them.
// ABOUTME: Shared by the content and index clients; all failures surface as RemoteOperationError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/2389-research/viewclone/content"
)

// TaskState is the lifecycle state of a remote task.
type TaskState string

const (
	TaskWaiting  TaskState = "waiting"
	TaskRunning  TaskState = "running"
	TaskFinished TaskState = "finished"
	TaskError    TaskState = "error"
	TaskCanceled TaskState = "canceled"
)

// Terminal reports whether the task will not change state again.
func (s TaskState) Terminal() bool {
	return s == TaskFinished || s == TaskError || s == TaskCanceled
}

// Task is a remote job as reported by GET /tasks/{id}/.
type Task struct {
	ID     string          `json:"task_id"`
	State  TaskState       `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *TaskFailure    `json:"error,omitempty"`
}

// TaskFailure describes why a task ended in the error state.
type TaskFailure struct {
	Description string `json:"description"`
}

// callReport is the 202 body returned when a request spawns tasks.
type callReport struct {
	SpawnedTasks []struct {
		TaskID string `json:"task_id"`
	} `json:"spawned_tasks"`
}

// DefaultPollInterval is how often task status is polled when unset.
const DefaultPollInterval = 500 * time.Millisecond

// TaskClient talks to a task-based remote service.
type TaskClient struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Retry        RetryPolicy
	Logger       *log.Logger
}

// NewTaskClient returns a client with the standard retry policy.
func NewTaskClient(baseURL, token string) *TaskClient {
	return &TaskClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: DefaultPollInterval,
		Retry:        RetryPolicyStandard(),
		Logger:       log.Default(),
	}
}

// Run submits a request and, if it spawned tasks, waits for all of them.
// It returns the last finished task, or nil when the call completed synchronously.
func (c *TaskClient) Run(ctx context.Context, op, path string, body any) (*Task, error) {
	ids, err := c.Submit(ctx, op, path, body)
	if err != nil {
		return nil, err
	}
	var last *Task
	for _, id := range ids {
		if last, err = c.Wait(ctx, op, id); err != nil {
			return nil, err
		}
	}
	return last, nil
}

// Submit POSTs body to path and returns the IDs of any spawned tasks.
func (c *TaskClient) Submit(ctx context.Context, op, path string, body any) ([]string, error) {
	var report callReport
	if err := c.do(ctx, op, http.MethodPost, path, body, &report); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(report.SpawnedTasks))
	for _, t := range report.SpawnedTasks {
		if t.TaskID != "" {
			ids = append(ids, t.TaskID)
		}
	}
	c.logf("component=remote action=submit op=%s path=%s tasks=%d", op, path, len(ids))
	return ids, nil
}

// Wait polls a task until it reaches a terminal state. Error and canceled
// tasks are returned as *content.RemoteOperationError.
func (c *TaskClient) Wait(ctx context.Context, op, taskID string) (*Task, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	path := "/tasks/" + taskID + "/"

	for {
		var task Task
		if err := c.do(ctx, op, http.MethodGet, path, nil, &task); err != nil {
			return nil, err
		}
		if task.ID == "" {
			task.ID = taskID
		}

		switch task.State {
		case TaskFinished:
			return &task, nil
		case TaskError:
			msg := "task " + taskID + " failed"
			if task.Error != nil && task.Error.Description != "" {
				msg = task.Error.Description
			}
			c.logf("component=remote action=task_failed op=%s task=%s err=%q", op, taskID, msg)
			return nil, &content.RemoteOperationError{Op: op, Message: msg}
		case TaskCanceled:
			return nil, &content.RemoteOperationError{Op: op, Message: "task " + taskID + " was canceled"}
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return nil, &content.RemoteOperationError{Op: op, Message: "waiting for task " + taskID, Err: err}
		}
	}
}

// do performs one JSON request with retries, decoding a 2xx body into out.
func (c *TaskClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	return withRetry(ctx, c.Retry, func(attempt int) error {
		if attempt > 0 {
			c.logf("component=remote action=retry op=%s method=%s path=%s attempt=%d", op, method, path, attempt+1)
		}
		return c.doOnce(ctx, op, method, path, payload, out)
	})
}

func (c *TaskClient) doOnce(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &content.RemoteOperationError{Op: op, Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &content.RemoteOperationError{Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &content.RemoteOperationError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &content.RemoteOperationError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// errorMessage extracts a description from an error body, falling back to the status line.
func errorMessage(body []byte, status string) string {
	var e struct {
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Description != "" {
			return e.Description
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 {
		return s
	}
	return status
}

func (c *TaskClient) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
