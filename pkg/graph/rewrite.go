// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"fmt"
	"strings"
)

// Structural node types that exist only for the editor: sheet plumbing and
// visual groups. They are rewritten away before compilation.
func isSheetNode(typ string) bool {
	switch typ {
	case "sheet-inputs", "sheet_inputs", "sheet-outputs", "sheet_outputs",
		"sheet-call", "sheet_call":
		return true
	}
	return false
}

// Normalize rewrites a diagram into one flat compilable sheet: secondary
// sheets stitched in, groups dropped, loop containers unrolled into explicit
// update/check nodes with a back-edge. Nested loops are handled by iterating
// the rewrite.
func Normalize(d *Diagram) *Sheet {
	sheets := collectSheets(d)
	for i := range sheets {
		sheets[i].doc = removeGroups(sheets[i].doc)
	}

	flat := flattenSheets(sheets)
	flat = removeGroups(flat)

	const maxLoopPasses = 10
	for pass := 0; pass < maxLoopPasses && hasLoops(flat); pass++ {
		flat = convertLoops(flat)
	}
	return flat
}

type namedSheet struct {
	name string
	doc  *Sheet
}

func collectSheets(d *Diagram) []namedSheet {
	var out []namedSheet
	if d.Bundle != nil {
		for _, s := range d.Bundle.Sheets {
			if s.Document == nil {
				continue
			}
			name := s.Name
			if name == "" {
				name = s.ID
			}
			out = append(out, namedSheet{name: name, doc: copySheet(s.Document)})
		}
	}
	if len(out) == 0 {
		main := d.WorkFlow
		if main == nil {
			main = &Sheet{}
		}
		out = append(out, namedSheet{name: "main", doc: copySheet(main)})
	}
	return out
}

func copySheet(s *Sheet) *Sheet {
	out := &Sheet{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: make([]Edge, len(s.Edges)),
	}
	copy(out.Nodes, s.Nodes)
	copy(out.Edges, s.Edges)
	return out
}

func removeGroups(s *Sheet) *Sheet {
	nodes := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Type == "group" {
			continue
		}
		nodes = append(nodes, n)
	}
	return &Sheet{Nodes: nodes, Edges: s.Edges}
}

func hasLoops(s *Sheet) bool {
	for _, n := range s.Nodes {
		if n.Type == "loop" {
			return true
		}
	}
	return false
}

// sheetEntry finds the first real node of a sheet: the successor of its
// sheet-inputs or start node, else the first non-structural node.
func sheetEntry(s *Sheet) string {
	var marker string
	for _, n := range s.Nodes {
		if n.Type == "sheet-inputs" || n.Type == "sheet_inputs" || n.Type == "start" {
			marker = n.ID
			break
		}
	}
	if marker != "" {
		for _, e := range s.Edges {
			if e.SourceNodeID == marker {
				return e.TargetNodeID
			}
		}
	}
	for _, n := range s.Nodes {
		if !isSheetNode(n.Type) && n.Type != "start" {
			return n.ID
		}
	}
	return ""
}

// flattenSheets stitches secondary sheets into the main one. Imported node
// ids are prefixed with "<sheet>__"; edges into sheet-call and sheet-outputs
// nodes are redirected to the named sheet's entry; structural sheet nodes
// are dropped. Single-sheet diagrams pass through untouched.
func flattenSheets(sheets []namedSheet) *Sheet {
	main := sheets[0].doc
	if len(sheets) == 1 {
		return main
	}

	byKey := map[string]namedSheet{}
	for _, s := range sheets {
		byKey[s.name] = s
	}

	merged := copySheet(main)
	for _, s := range sheets[1:] {
		prefix := s.name + "__"
		for _, n := range s.doc.Nodes {
			if isSheetNode(n.Type) || n.Type == "start" {
				continue
			}
			nn := n
			nn.ID = prefix + n.ID
			merged.Nodes = append(merged.Nodes, nn)
		}
		for _, e := range s.doc.Edges {
			src := s.doc.node(e.SourceNodeID)
			tgt := s.doc.node(e.TargetNodeID)
			if src != nil && (src.Type == "sheet-inputs" || src.Type == "sheet_inputs" || src.Type == "start") {
				continue
			}
			if tgt != nil && (tgt.Type == "sheet-inputs" || tgt.Type == "sheet_inputs") {
				continue
			}
			ee := e
			ee.SourceNodeID = prefix + e.SourceNodeID
			ee.TargetNodeID = prefix + e.TargetNodeID
			merged.Edges = append(merged.Edges, ee)
		}
	}

	// Redirect edges that target a sheet jump to the target sheet's entry.
	redirect := map[string]string{}
	for _, n := range merged.Nodes {
		if n.Type != "sheet-call" && n.Type != "sheet_call" &&
			n.Type != "sheet-outputs" && n.Type != "sheet_outputs" {
			continue
		}
		ref := nextSheetRef(n.Data, byKey)
		if ref == "" {
			continue
		}
		target := byKey[ref]
		entry := sheetEntry(target.doc)
		if entry == "" {
			continue
		}
		redirect[n.ID] = target.name + "__" + entry
	}

	edges := make([]Edge, 0, len(merged.Edges))
	for _, e := range merged.Edges {
		if to, ok := redirect[e.TargetNodeID]; ok {
			e.TargetNodeID = to
		}
		edges = append(edges, e)
	}

	// Drop structural nodes and any edge still touching one.
	nodes := make([]Node, 0, len(merged.Nodes))
	structural := map[string]bool{}
	for _, n := range merged.Nodes {
		if isSheetNode(n.Type) {
			structural[n.ID] = true
			continue
		}
		nodes = append(nodes, n)
	}
	kept := edges[:0]
	for _, e := range edges {
		if structural[e.SourceNodeID] || structural[e.TargetNodeID] {
			continue
		}
		kept = append(kept, e)
	}
	return &Sheet{Nodes: nodes, Edges: kept}
}

// nextSheetRef digs the target sheet name out of a sheet-call node's data.
func nextSheetRef(data map[string]any, known map[string]namedSheet) string {
	if data == nil {
		return ""
	}
	keys := []string{
		"nextSheet", "next_sheet", "sheet", "sheetId", "sheet_id",
		"targetSheet", "target_sheet", "sheetName", "sheet_name",
	}
	scopes := []map[string]any{data}
	if inner, ok := data["data"].(map[string]any); ok {
		scopes = append(scopes, inner)
	}
	for _, scope := range scopes {
		for _, k := range keys {
			if s, ok := scope[k].(string); ok {
				if _, exists := known[s]; exists {
					return s
				}
			}
		}
	}
	return ""
}

// convertLoops unrolls each loop container into an update_<id>_condition
// code node and a check_<id>_condition condition node. Incoming edges are
// rewired to the update node; the check node branches back into the loop
// body on if_out and to the loop's external successors on else_out; the
// body's last nodes feed the update node to close the cycle.
func convertLoops(s *Sheet) *Sheet {
	loops := []Node{}
	for _, n := range s.Nodes {
		if n.Type == "loop" {
			loops = append(loops, n)
		}
	}
	if len(loops) == 0 {
		return s
	}

	removedNodes := map[string]bool{}
	type edgeKey struct{ src, dst, port string }
	removedEdges := map[edgeKey]bool{}
	var addedNodes []Node
	var addedEdges []Edge

	predsOf := func(id string) []string {
		var out []string
		for _, e := range s.Edges {
			if e.TargetNodeID == id {
				out = append(out, e.SourceNodeID)
			}
		}
		return out
	}
	succsOf := func(id string) []string {
		var out []string
		for _, e := range s.Edges {
			if e.SourceNodeID == id {
				out = append(out, e.TargetNodeID)
			}
		}
		return out
	}

	for _, loop := range loops {
		updateID := fmt.Sprintf("update_%s_condition", loop.ID)
		checkID := fmt.Sprintf("check_%s_condition", loop.ID)

		firsts, lasts := loopBoundary(loop)
		addedNodes = append(addedNodes,
			Node{ID: updateID, Type: "code", Data: map[string]any{
				"title":  updateID,
				"script": map[string]any{"language": "lua", "content": loopUpdateScript(loop)},
			}},
			Node{ID: checkID, Type: "condition", Data: map[string]any{
				"title": checkID,
				"conditions": []any{
					map[string]any{"key": "if_out", "value": map[string]any{
						"left":     map[string]any{"type": "ref", "content": []any{"condition"}},
						"operator": "is_true",
					}},
					map[string]any{"key": "else_out", "value": map[string]any{}},
				},
			}},
		)

		for _, p := range predsOf(loop.ID) {
			removedEdges[edgeKey{p, loop.ID, ""}] = true
			addedEdges = append(addedEdges, Edge{SourceNodeID: p, TargetNodeID: updateID})
		}
		addedEdges = append(addedEdges, Edge{SourceNodeID: updateID, TargetNodeID: checkID})
		for _, f := range firsts {
			addedEdges = append(addedEdges, Edge{SourceNodeID: checkID, TargetNodeID: f, SourcePortID: "if_out"})
		}
		for _, succ := range succsOf(loop.ID) {
			removedEdges[edgeKey{loop.ID, succ, ""}] = true
			addedEdges = append(addedEdges, Edge{SourceNodeID: checkID, TargetNodeID: succ, SourcePortID: "else_out"})
		}
		for _, la := range lasts {
			addedEdges = append(addedEdges, Edge{SourceNodeID: la, TargetNodeID: updateID})
		}

		// Hoist the loop body into the outer graph.
		for _, bn := range loop.Blocks {
			if bn.Type == "block-start" || bn.Type == "block-end" {
				removedNodes[bn.ID] = true
				continue
			}
			addedNodes = append(addedNodes, bn)
		}
		passthru := map[string]bool{}
		for _, bn := range loop.Blocks {
			if bn.Type == "block-start" || bn.Type == "block-end" {
				passthru[bn.ID] = true
			}
		}
		for _, ie := range loop.Edges {
			if passthru[ie.SourceNodeID] || passthru[ie.TargetNodeID] {
				continue
			}
			addedEdges = append(addedEdges, Edge{SourceNodeID: ie.SourceNodeID, TargetNodeID: ie.TargetNodeID, SourcePortID: ie.Port()})
		}
		removedNodes[loop.ID] = true
	}

	nodes := make([]Node, 0, len(s.Nodes)+len(addedNodes))
	for _, n := range s.Nodes {
		if !removedNodes[n.ID] {
			nodes = append(nodes, n)
		}
	}
	have := map[string]bool{}
	for _, n := range nodes {
		have[n.ID] = true
	}
	for _, n := range addedNodes {
		if !have[n.ID] {
			nodes = append(nodes, n)
			have[n.ID] = true
		}
	}

	edges := make([]Edge, 0, len(s.Edges)+len(addedEdges))
	for _, e := range s.Edges {
		if removedEdges[edgeKey{e.SourceNodeID, e.TargetNodeID, ""}] ||
			removedNodes[e.SourceNodeID] || removedNodes[e.TargetNodeID] {
			continue
		}
		edges = append(edges, e)
	}
	edges = append(edges, addedEdges...)

	// Sweep edges whose endpoints vanished with the loop shells.
	kept := edges[:0]
	for _, e := range edges {
		if have[e.SourceNodeID] && have[e.TargetNodeID] {
			kept = append(kept, e)
		}
	}
	return &Sheet{Nodes: nodes, Edges: kept}
}

// loopBoundary finds the entry and exit nodes of a loop body: entries have
// no real predecessor inside the body, exits no real successor.
func loopBoundary(loop Node) (firsts, lasts []string) {
	passthru := map[string]bool{}
	for _, bn := range loop.Blocks {
		if bn.Type == "block-start" || bn.Type == "block-end" {
			passthru[bn.ID] = true
		}
	}

	preds := map[string][]string{}
	succs := map[string][]string{}
	inner := map[string]bool{}
	for _, e := range loop.Edges {
		preds[e.TargetNodeID] = append(preds[e.TargetNodeID], e.SourceNodeID)
		succs[e.SourceNodeID] = append(succs[e.SourceNodeID], e.TargetNodeID)
		inner[e.SourceNodeID], inner[e.TargetNodeID] = true, true
	}
	for _, bn := range loop.Blocks {
		inner[bn.ID] = true
	}

	real := func(ids []string) int {
		n := 0
		for _, id := range ids {
			if !passthru[id] {
				n++
			}
		}
		return n
	}
	for id := range inner {
		if passthru[id] {
			continue
		}
		if real(preds[id]) == 0 {
			firsts = append(firsts, id)
		}
		if real(succs[id]) == 0 {
			lasts = append(lasts, id)
		}
	}
	return firsts, lasts
}

// loopUpdateScript generates the injected condition-update script. A loop
// with a fixed iteration count maintains its own counter; a while-style
// loop leaves state.condition to the body to manage, defaulting to one
// entry.
func loopUpdateScript(loop Node) string {
	counter := fmt.Sprintf("loop_%s_i", sanitizeID(loop.ID))
	if iter, ok := loopIterations(loop.Data); ok {
		return fmt.Sprintf(`function main(state)
  local i = (state[%q] or 0) + 1
  state[%q] = i
  state["condition"] = i <= %d
  return state
end`, counter, counter, iter)
	}
	return `function main(state)
  if state["condition"] == nil then
    state["condition"] = true
  end
  return state
end`
}

func loopIterations(data map[string]any) (int, bool) {
	if data == nil {
		return 0, false
	}
	for _, k := range []string{"iter", "iterations", "count", "loopCount", "loop_count"} {
		switch v := data[k].(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, id)
}
