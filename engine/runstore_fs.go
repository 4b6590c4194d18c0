// ABOUTME: Filesystem-backed RunStore persisting each run in its own directory.
// ABOUTME: Writes manifest.json and plan.json atomically and appends events to events.jsonl.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/plan"
)

// Compile-time check that FSRunStore implements RunStore.
var _ RunStore = (*FSRunStore)(nil)

// FSRunStore is a filesystem-backed RunStore. Each run lives in baseDir/<run id>/.
type FSRunStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFSRunStore creates a store rooted at baseDir, creating the directory if needed.
func NewFSRunStore(baseDir string) (*FSRunStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &FSRunStore{baseDir: baseDir}, nil
}

// Create persists a new run and its plan. Fails if the run already exists.
func (s *FSRunStore) Create(run *Run, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := s.RunDir(run.ID)
	if _, err := os.Stat(runDir); err == nil {
		return &content.ConflictError{Resource: "run", ID: run.ID, Reason: "already exists"}
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(runDir, "plan.json"), p); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	if err := s.writeManifest(runDir, run); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "events.jsonl"), nil, 0o644); err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	return nil
}

// Get loads a run and its events.
func (s *FSRunStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUnlocked(id)
}

func (s *FSRunStore) getUnlocked(id string) (*Run, error) {
	runDir, err := s.existingRunDir(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(runDir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest for %q: %w", id, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse manifest for %q: %w", id, err)
	}

	events, err := readEvents(runDir)
	if err != nil {
		return nil, fmt.Errorf("read events for %q: %w", id, err)
	}
	run.Events = events
	return &run, nil
}

// Update overwrites the manifest of an existing run. Events are not rewritten.
func (s *FSRunStore) Update(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.existingRunDir(run.ID)
	if err != nil {
		return err
	}
	return s.writeManifest(runDir, run)
}

// List returns all stored runs, oldest first. Unreadable entries are skipped.
func (s *FSRunStore) List() ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var runs []*Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.getUnlocked(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// AddEvent appends an event to the run's events.jsonl.
func (s *FSRunStore) AddEvent(id string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.existingRunDir(id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(runDir, "events.jsonl"), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// LoadPlan reads the plan a run was created with.
func (s *FSRunStore) LoadPlan(id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runDir, err := s.existingRunDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(runDir, "plan.json"))
	if err != nil {
		return nil, fmt.Errorf("read plan for %q: %w", id, err)
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan for %q: %w", id, err)
	}
	return &p, nil
}

// RunDir returns the directory path for a run ID.
func (s *FSRunStore) RunDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *FSRunStore) existingRunDir(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", &content.NotFoundError{Resource: "run", ID: id}
	}
	runDir := s.RunDir(id)
	if _, err := os.Stat(runDir); errors.Is(err, os.ErrNotExist) {
		return "", &content.NotFoundError{Resource: "run", ID: id}
	}
	return runDir, nil
}

func (s *FSRunStore) writeManifest(runDir string, run *Run) error {
	m := *run
	m.Events = nil
	if m.Steps == nil {
		m.Steps = []StepState{}
	}
	return writeJSONAtomic(filepath.Join(runDir, "manifest.json"), &m)
}

// readEvents parses events.jsonl, one Event per line.
func readEvents(runDir string) ([]Event, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "events.jsonl"))
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return []Event{}, nil
	}

	lines := strings.Split(text, "\n")
	events := make([]Event, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", i, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

// writeJSONAtomic writes v as indented JSON through a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
