// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"encoding/json"
	"strings"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/event"
	"github.com/ecanlabs/weave/pkg/node"
	"github.com/ecanlabs/weave/pkg/resilience"
	"github.com/ecanlabs/weave/pkg/state"
)

// BranchFunc selects the successor node id for a conditional source. An
// empty return means the run is complete.
type BranchFunc func(st state.State) string

// Graph is the compiled, immutable executable form of a diagram. Nodes are
// wrapped callables indexed by id; routing is either a single unconditional
// edge or a branch function.
type Graph struct {
	Entry    string
	funcs    map[string]node.Func
	kinds    map[string]node.Kind
	next     map[string]string
	branches map[string]BranchFunc
}

// Node returns the wrapped callable registered under id.
func (g *Graph) Node(id string) (node.Func, bool) {
	fn, ok := g.funcs[id]
	return fn, ok
}

// Kind returns the node kind registered under id.
func (g *Graph) Kind(id string) node.Kind { return g.kinds[id] }

// Len returns the number of compiled nodes.
func (g *Graph) Len() int { return len(g.funcs) }

// Successor picks the next node after id given the post-invocation state.
// Branch functions return exactly one destination; an empty id means the run
// completed.
func (g *Graph) Successor(id string, st state.State) string {
	if branch, ok := g.branches[id]; ok {
		return branch(st)
	}
	return g.next[id]
}

// Compiled bundles the graph with the artifacts extracted alongside it.
type Compiled struct {
	Graph         *Graph
	Breakpoints   *node.BreakpointManager
	NodeTransfers map[string][]event.Rule
}

type options struct {
	retry       resilience.RetryConfig
	breakpoints []string
}

// Option adjusts compilation.
type Option func(*options)

// WithRetry sets the wrapper retry policy for every compiled node.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *options) { o.retry = rc }
}

// WithBreakpoints pre-seeds the breakpoint set beyond what the diagram
// declares.
func WithBreakpoints(ids ...string) Option {
	return func(o *options) { o.breakpoints = append(o.breakpoints, ids...) }
}

// Compile normalizes the diagram and builds the executable graph: one
// wrapped callable per node, unconditional successors, and a synthesized
// branch function per conditional source. Unknown node types and dangling
// edge targets fail compilation.
func Compile(d *Diagram, opts ...Option) (*Compiled, error) {
	o := options{retry: resilience.DefaultRetryConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	sheet := Normalize(d)
	if len(sheet.Nodes) == 0 {
		return nil, errors.New(errors.KindCompileFailure, "diagram has no nodes", nil).
			WithContext("skill", d.SkillName)
	}

	bpIDs := append([]string{}, o.breakpoints...)
	bpIDs = append(bpIDs, diagramBreakpoints(d, sheet)...)
	bp := node.NewBreakpointManager(bpIDs...)

	g := &Graph{
		funcs:    make(map[string]node.Func, len(sheet.Nodes)),
		kinds:    make(map[string]node.Kind, len(sheet.Nodes)),
		next:     map[string]string{},
		branches: map[string]BranchFunc{},
	}
	transfers := map[string][]event.Rule{}

	for _, n := range sheet.Nodes {
		kind := node.ParseKind(n.Type)
		fn, err := node.Build(kind, node.Config(n.Data))
		if err != nil {
			return nil, errors.New(errors.KindCompileFailure, "build node", err).
				WithContext("node", n.ID).
				WithContext("type", n.Type)
		}
		id := node.Identity{NodeID: n.ID, SkillName: d.SkillName, Owner: d.Owner}
		g.funcs[n.ID] = node.Wrap(fn, id, bp, o.retry)
		g.kinds[n.ID] = kind

		if rules := nodeTransferRules(n.Data); len(rules) > 0 {
			transfers[n.ID] = rules
		}
	}

	conditional := map[string]map[string]string{}
	for _, e := range sheet.Edges {
		if _, ok := g.funcs[e.SourceNodeID]; !ok {
			return nil, errors.New(errors.KindCompileFailure, "edge source not in diagram", nil).
				WithContext("source", e.SourceNodeID)
		}
		if _, ok := g.funcs[e.TargetNodeID]; !ok {
			return nil, errors.New(errors.KindCompileFailure, "unresolved edge target", nil).
				WithContext("source", e.SourceNodeID).
				WithContext("target", e.TargetNodeID)
		}
		if port := e.Port(); port != "" {
			m := conditional[e.SourceNodeID]
			if m == nil {
				m = map[string]string{}
				conditional[e.SourceNodeID] = m
			}
			m[port] = e.TargetNodeID
			continue
		}
		if prev, dup := g.next[e.SourceNodeID]; dup && prev != e.TargetNodeID {
			return nil, errors.New(errors.KindCompileFailure, "ambiguous unconditional successor", nil).
				WithContext("source", e.SourceNodeID)
		}
		g.next[e.SourceNodeID] = e.TargetNodeID
	}

	for src, targets := range conditional {
		n := sheet.node(src)
		var data map[string]any
		if n != nil {
			data = n.Data
		}
		g.branches[src] = synthesizeBranch(data, targets)
	}

	g.Entry = findEntry(sheet)
	if g.Entry == "" {
		return nil, errors.New(errors.KindCompileFailure, "no entry node", nil).
			WithContext("skill", d.SkillName)
	}

	return &Compiled{Graph: g, Breakpoints: bp, NodeTransfers: transfers}, nil
}

// findEntry picks the node marked start, else the first node nothing points
// at.
func findEntry(s *Sheet) string {
	for _, n := range s.Nodes {
		if n.Type == "start" {
			return n.ID
		}
	}
	hasIncoming := map[string]bool{}
	for _, e := range s.Edges {
		hasIncoming[e.TargetNodeID] = true
	}
	for _, n := range s.Nodes {
		if !hasIncoming[n.ID] {
			return n.ID
		}
	}
	return s.Nodes[0].ID
}

// conditionSpec is one ordered port predicate from the node data.
type conditionSpec struct {
	key   string
	value map[string]any
}

func parseConditions(data map[string]any) []conditionSpec {
	if data == nil {
		return nil
	}
	raw, _ := data["conditions"].([]any)
	out := make([]conditionSpec, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		if key == "" {
			continue
		}
		value, _ := m["value"].(map[string]any)
		out = append(out, conditionSpec{key: key, value: value})
	}
	return out
}

func isElsePort(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "else") || strings.HasPrefix(k, "false") || k == "default"
}

// synthesizeBranch builds the routing function for one conditional source.
// Ordered predicates are evaluated first-match-wins; the else port is the
// fallback, so exactly one destination comes out of every evaluation as long
// as the diagram declares one.
func synthesizeBranch(data map[string]any, targets map[string]string) BranchFunc {
	conds := parseConditions(data)

	var elsePort string
	for _, c := range conds {
		if isElsePort(c.key) {
			elsePort = c.key
			break
		}
	}
	if elsePort == "" {
		for port := range targets {
			if isElsePort(port) {
				elsePort = port
				break
			}
		}
	}

	if len(conds) == 0 {
		// No declared predicates: route on state.condition truthiness
		// between the if-style and else-style ports.
		var ifPort string
		for port := range targets {
			if !isElsePort(port) {
				ifPort = port
				break
			}
		}
		return func(st state.State) string {
			if node.Truthy(st[state.KeyCondition]) && ifPort != "" {
				return targets[ifPort]
			}
			return targets[elsePort]
		}
	}

	return func(st state.State) string {
		for _, c := range conds {
			if isElsePort(c.key) {
				continue
			}
			dst, wired := targets[c.key]
			if !wired {
				continue
			}
			if node.EvalPredicate(c.value, st) {
				return dst
			}
		}
		return targets[elsePort]
	}
}

// nodeTransferRules extracts a node's data-mapping block as resume transfer
// rules. Both a bare rule list and a {mappings: [...]} wrapper are accepted.
func nodeTransferRules(data map[string]any) []event.Rule {
	if data == nil {
		return nil
	}
	raw, ok := data["data-mapping"]
	if !ok {
		raw, ok = data["dataMapping"]
	}
	if !ok {
		return nil
	}
	if m, isMap := raw.(map[string]any); isMap {
		if inner, has := m["mappings"]; has {
			raw = inner
		}
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var rules []event.Rule
	if err := json.Unmarshal(buf, &rules); err != nil {
		return nil
	}
	return rules
}

// diagramBreakpoints collects breakpoint ids declared on the diagram or on
// individual nodes.
func diagramBreakpoints(d *Diagram, sheet *Sheet) []string {
	var out []string
	if d.Extra != nil {
		if list, ok := d.Extra["breakpointList"].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	for _, n := range sheet.Nodes {
		if n.Data == nil {
			continue
		}
		if b, ok := n.Data["breakpoint"].(bool); ok && b {
			out = append(out, n.ID)
		}
	}
	return out
}
