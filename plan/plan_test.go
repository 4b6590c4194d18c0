// ABOUTME: Tests for plan construction, step ID assignment, traversal, and persistence encoding.
// ABOUTME: The encoding test mirrors how the executor stores and reloads plans for resume.
package plan

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/2389-research/viewclone/content"
)

func samplePlan(t *testing.T) *Plan {
	t.Helper()
	p, err := New("e1", true,
		NewStep(CreateInput{Entity: content.PuppetEnvironment{ID: "e1", PulpID: "acme-web-dev-puppet"}, SkipCompletenessCheck: true}),
		NewStep(CopyInput{SourcePulpID: "P1", TargetPulpID: "acme-web-dev-puppet"}),
		Concurrent(
			NewStep(MetadataGenerateInput{EntityID: "e1", PulpID: "acme-web-dev-puppet"}),
			NewStep(IndexContentInput{EntityID: "e1"}),
		),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestNewAssignsHierarchicalIDs(t *testing.T) {
	p := samplePlan(t)

	var ids []string
	for _, s := range p.Steps() {
		ids = append(ids, s.ID)
	}
	want := "1:create,2:copy,3.1:metadata_generate,3.2:index_content"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("step IDs = %s, want %s", got, want)
	}
}

func TestDescribe(t *testing.T) {
	p := samplePlan(t)
	want := "create, copy, concurrence[metadata_generate, index_content]"
	if got := p.Describe(); got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}

func TestFind(t *testing.T) {
	p := samplePlan(t)
	s := p.Find("2:copy")
	if s == nil {
		t.Fatal("expected to find 2:copy")
	}
	in, ok := s.Input.(CopyInput)
	if !ok || in.SourcePulpID != "P1" {
		t.Errorf("unexpected input %#v", s.Input)
	}
	if p.Find("9:nothing") != nil {
		t.Error("expected nil for unknown step")
	}
}

func TestNewRejectsMalformedGraphs(t *testing.T) {
	cases := map[string]func() (*Plan, error){
		"no entity":         func() (*Plan, error) { return New("", false, NewStep(IndexContentInput{})) },
		"no nodes":          func() (*Plan, error) { return New("e", false) },
		"empty concurrence": func() (*Plan, error) { return New("e", false, Concurrent()) },
		"empty sequence":    func() (*Plan, error) { return New("e", false, Seq()) },
		"nil input":         func() (*Plan, error) { return New("e", false, &Step{}) },
		"nil node":          func() (*Plan, error) { return New("e", false, Seq(Node(nil))) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := build(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPlanSurvivesPersistence(t *testing.T) {
	p := samplePlan(t)

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var loaded Plan
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if loaded.Describe() != p.Describe() {
		t.Errorf("shape changed: %q vs %q", loaded.Describe(), p.Describe())
	}
	if !loaded.NewEntity || loaded.EntityID != "e1" {
		t.Errorf("plan header lost: %+v", loaded)
	}
	create, ok := loaded.Find("1:create").Input.(CreateInput)
	if !ok {
		t.Fatalf("expected CreateInput value, got %T", loaded.Find("1:create").Input)
	}
	if !create.SkipCompletenessCheck || create.Entity.PulpID != "acme-web-dev-puppet" {
		t.Errorf("create input lost fields: %+v", create)
	}
	copyIn := loaded.Find("2:copy").Input.(CopyInput)
	if copyIn.Criteria != nil {
		t.Errorf("expected nil criteria, got %+v", copyIn.Criteria)
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	raw := `{"entity_id":"e","nodes":[{"type":"step","id":"1:x","kind":"explode","input":{}}]}`
	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestStatusTerminal(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
	}
}
