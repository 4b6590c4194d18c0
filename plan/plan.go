// ABOUTME: Plan is the fully resolved node graph for one orchestration run.
// ABOUTME: New assigns hierarchical step IDs and rejects malformed graphs.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// Plan is an immutable, resolved graph of steps. Its top-level nodes run as a
// sequence.
type Plan struct {
	// EntityID is the entity the plan creates or mutates.
	EntityID string
	// NewEntity is true when the plan's first step creates the entity.
	NewEntity bool
	Nodes     []Node
	CreatedAt time.Time
}

// New builds a plan from top-level nodes and assigns step IDs of the form
// "<path>:<kind>", e.g. "1:create" or "4.2:index_content".
func New(entityID string, newEntity bool, nodes ...Node) (*Plan, error) {
	if entityID == "" {
		return nil, fmt.Errorf("plan has no entity")
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("plan has no nodes")
	}
	p := &Plan{
		EntityID:  entityID,
		NewEntity: newEntity,
		Nodes:     nodes,
		CreatedAt: time.Now().UTC(),
	}
	for i, n := range nodes {
		if err := assignIDs(n, fmt.Sprintf("%d", i+1)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func assignIDs(n Node, path string) error {
	switch n := n.(type) {
	case *Step:
		if n.Input == nil {
			return fmt.Errorf("step %s has no input", path)
		}
		n.ID = path + ":" + string(n.Kind())
	case *Sequence:
		return assignChildren(n.Nodes, path, "sequence")
	case *Concurrence:
		return assignChildren(n.Nodes, path, "concurrence")
	case nil:
		return fmt.Errorf("nil node at %s", path)
	default:
		return fmt.Errorf("unknown node type %T at %s", n, path)
	}
	return nil
}

func assignChildren(children []Node, path, what string) error {
	if len(children) == 0 {
		return fmt.Errorf("empty %s at %s", what, path)
	}
	for i, c := range children {
		if err := assignIDs(c, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns every step in declaration order.
func (p *Plan) Steps() []*Step {
	var steps []*Step
	Walk(p.Nodes, func(n Node) {
		if s, ok := n.(*Step); ok {
			steps = append(steps, s)
		}
	})
	return steps
}

// Find returns the step with the given ID, or nil.
func (p *Plan) Find(id string) *Step {
	for _, s := range p.Steps() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Walk visits nodes depth-first in declaration order.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)
		switch n := n.(type) {
		case *Sequence:
			Walk(n.Nodes, fn)
		case *Concurrence:
			Walk(n.Nodes, fn)
		}
	}
}

// Describe renders the plan's shape, e.g.
// "create, copy, concurrence[metadata_generate, index_content]".
func (p *Plan) Describe() string {
	return describe(p.Nodes)
}

func describe(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		switch n := n.(type) {
		case *Step:
			parts = append(parts, string(n.Kind()))
		case *Sequence:
			parts = append(parts, "sequence["+describe(n.Nodes)+"]")
		case *Concurrence:
			parts = append(parts, "concurrence["+describe(n.Nodes)+"]")
		}
	}
	return strings.Join(parts, ", ")
}
