// ABOUTME: JSON encoding for plans so a run's plan can be persisted and reloaded for resume.
// ABOUTME: Nodes carry a "type" discriminator and steps carry their kind alongside a typed input.
package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

type wirePlan struct {
	EntityID  string            `json:"entity_id"`
	NewEntity bool              `json:"new_entity"`
	CreatedAt time.Time         `json:"created_at"`
	Nodes     []json.RawMessage `json:"nodes"`
}

type wireNode struct {
	Type  string            `json:"type"`
	ID    string            `json:"id,omitempty"`
	Kind  Kind              `json:"kind,omitempty"`
	Input json.RawMessage   `json:"input,omitempty"`
	Nodes []json.RawMessage `json:"nodes,omitempty"`
}

// MarshalJSON encodes the plan with typed nodes.
func (p *Plan) MarshalJSON() ([]byte, error) {
	nodes, err := encodeNodes(p.Nodes)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wirePlan{
		EntityID:  p.EntityID,
		NewEntity: p.NewEntity,
		CreatedAt: p.CreatedAt,
		Nodes:     nodes,
	})
}

// UnmarshalJSON decodes a plan written by MarshalJSON. Step IDs are kept as stored.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	nodes, err := decodeNodes(w.Nodes)
	if err != nil {
		return err
	}
	*p = Plan{
		EntityID:  w.EntityID,
		NewEntity: w.NewEntity,
		CreatedAt: w.CreatedAt,
		Nodes:     nodes,
	}
	return nil
}

func encodeNodes(nodes []Node) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(nodes))
	for _, n := range nodes {
		var w wireNode
		switch n := n.(type) {
		case *Step:
			input, err := json.Marshal(n.Input)
			if err != nil {
				return nil, fmt.Errorf("encode step %s: %w", n.ID, err)
			}
			w = wireNode{Type: "step", ID: n.ID, Kind: n.Kind(), Input: input}
		case *Sequence:
			children, err := encodeNodes(n.Nodes)
			if err != nil {
				return nil, err
			}
			w = wireNode{Type: "sequence", Nodes: children}
		case *Concurrence:
			children, err := encodeNodes(n.Nodes)
			if err != nil {
				return nil, err
			}
			w = wireNode{Type: "concurrence", Nodes: children}
		default:
			return nil, fmt.Errorf("encode: unknown node type %T", n)
		}
		data, err := json.Marshal(w)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func decodeNodes(raw []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, 0, len(raw))
	for _, r := range raw {
		var w wireNode
		if err := json.Unmarshal(r, &w); err != nil {
			return nil, err
		}
		switch w.Type {
		case "step":
			in, err := decodeInput(w.Kind, w.Input)
			if err != nil {
				return nil, fmt.Errorf("decode step %s: %w", w.ID, err)
			}
			nodes = append(nodes, &Step{ID: w.ID, Input: in})
		case "sequence":
			children, err := decodeNodes(w.Nodes)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Sequence{Nodes: children})
		case "concurrence":
			children, err := decodeNodes(w.Nodes)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Concurrence{Nodes: children})
		default:
			return nil, fmt.Errorf("decode: unknown node type %q", w.Type)
		}
	}
	return nodes, nil
}

func decodeInput(kind Kind, raw json.RawMessage) (Input, error) {
	switch kind {
	case KindCreate:
		var in CreateInput
		err := json.Unmarshal(raw, &in)
		return in, err
	case KindRelink:
		var in RelinkInput
		err := json.Unmarshal(raw, &in)
		return in, err
	case KindClear:
		var in ClearInput
		err := json.Unmarshal(raw, &in)
		return in, err
	case KindCopy:
		var in CopyInput
		err := json.Unmarshal(raw, &in)
		return in, err
	case KindMetadataGenerate:
		var in MetadataGenerateInput
		err := json.Unmarshal(raw, &in)
		return in, err
	case KindIndexContent:
		var in IndexContentInput
		err := json.Unmarshal(raw, &in)
		return in, err
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
}
