// SPDX-License-Identifier: Apache-2.0
// Package graph compiles declarative node+edge diagrams into executable
// graphs of wrapped node callables with conditional routing.
package graph

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ecanlabs/weave/pkg/errors"
)

// Diagram is the top-level skill document as exported by the flow editor.
// Either WorkFlow holds the single sheet or Bundle carries multiple sheets,
// the first of which is the main one.
type Diagram struct {
	SkillName string         `json:"skillName,omitempty" yaml:"skillName,omitempty"`
	Owner     string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	Version   string         `json:"version,omitempty" yaml:"version,omitempty"`
	WorkFlow  *Sheet         `json:"workFlow,omitempty" yaml:"workFlow,omitempty"`
	Bundle    *Bundle        `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Extra     map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Sheet is one flat page of nodes and edges.
type Sheet struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is a diagram node. Loop containers additionally carry their inner
// Blocks and Edges; those are flattened away before compilation.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Data   map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Blocks []Node         `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Edges  []Edge         `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Edge connects two nodes. SourcePortID labels conditional branches;
// Condition is the short-hand alias some hand-written diagrams use.
type Edge struct {
	SourceNodeID string `json:"sourceNodeID" yaml:"sourceNodeID"`
	TargetNodeID string `json:"targetNodeID" yaml:"targetNodeID"`
	SourcePortID string `json:"sourcePortID,omitempty" yaml:"sourcePortID,omitempty"`
	Condition    string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Port returns the branch label of a conditional edge, empty for
// unconditional edges.
func (e Edge) Port() string {
	if e.SourcePortID != "" {
		return e.SourcePortID
	}
	return e.Condition
}

// Bundle carries the secondary sheets of a multi-sheet skill.
type Bundle struct {
	Sheets []BundleSheet `json:"sheets,omitempty" yaml:"sheets,omitempty"`
}

// BundleSheet is one named sheet inside a bundle.
type BundleSheet struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Document *Sheet `json:"document" yaml:"document"`
}

// Parse decodes a diagram from JSON or YAML, sniffing the format.
func Parse(data []byte) (*Diagram, error) {
	var d Diagram
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, errors.New(errors.KindCompileFailure, "parse diagram json", err)
		}
		return &d, nil
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.New(errors.KindCompileFailure, "parse diagram yaml", err)
	}
	return &d, nil
}

// Marshal renders the diagram back to canonical JSON.
func (d *Diagram) Marshal() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.New(errors.KindInternal, "marshal diagram", err)
	}
	return out, nil
}

// MainSheet returns the sheet compilation starts from: the explicit
// workFlow, else the first bundle sheet.
func (d *Diagram) MainSheet() *Sheet {
	if d.WorkFlow != nil {
		return d.WorkFlow
	}
	if d.Bundle != nil && len(d.Bundle.Sheets) > 0 {
		return d.Bundle.Sheets[0].Document
	}
	return nil
}

func (s *Sheet) node(id string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}
