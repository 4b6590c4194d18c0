// ABOUTME: Plan nodes: single steps and the Sequence/Concurrence composition primitives.
// ABOUTME: Sequences order their children strictly; concurrences leave children unordered.
package plan

// Node is an element of a plan: a *Step, *Sequence, or *Concurrence.
type Node interface {
	node()
}

// Step is a single unit of work. ID is assigned when the plan is built.
type Step struct {
	ID    string
	Input Input
}

// Kind returns the kind of the step's input.
func (s *Step) Kind() Kind {
	return s.Input.Kind()
}

// Sequence runs child i+1 only after child i succeeded.
type Sequence struct {
	Nodes []Node
}

// Concurrence runs its children with no ordering among them. It completes when
// every started child reached a terminal status.
type Concurrence struct {
	Nodes []Node
}

func (*Step) node()        {}
func (*Sequence) node()    {}
func (*Concurrence) node() {}

// NewStep wraps an input in an unnamed step.
func NewStep(in Input) *Step {
	return &Step{Input: in}
}

// Seq composes nodes in strict order.
func Seq(nodes ...Node) *Sequence {
	return &Sequence{Nodes: nodes}
}

// Concurrent composes nodes with no ordering among them.
func Concurrent(nodes ...Node) *Concurrence {
	return &Concurrence{Nodes: nodes}
}
