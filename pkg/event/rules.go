package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/state"
	"gopkg.in/yaml.v3"
)

// Conflict policies for mapping targets.
const (
	ConflictOverwrite = "overwrite"
	ConflictMerge     = "merge"
	ConflictAppend    = "append"
	ConflictSkip      = "skip"
)

// Target is a single mapping destination.
type Target struct {
	Target string `json:"target" yaml:"target"`
}

// Rule maps the first non-missing source path onto one or more targets.
// Source roots are event.* and state.*; target roots are state.* (patch)
// and resume.* (resume payload).
type Rule struct {
	From       []string `json:"from" yaml:"from"`
	To         []Target `json:"to" yaml:"to"`
	OnConflict string   `json:"on_conflict,omitempty" yaml:"on_conflict,omitempty"`
	Transform  string   `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// RuleSet holds the mapping rules for one run mode plus per-node transfer
// rules applied when an event resumes a specific node.
type RuleSet struct {
	Mappings      []Rule            `json:"mappings" yaml:"mappings"`
	NodeTransfers map[string][]Rule `json:"node_transfers,omitempty" yaml:"node_transfers,omitempty"`
}

// File is the on-disk data_mapping.json shape, keyed by run mode.
type File struct {
	Developing    *RuleSet          `json:"developing,omitempty" yaml:"developing,omitempty"`
	Released      *RuleSet          `json:"released,omitempty" yaml:"released,omitempty"`
	NodeTransfers map[string][]Rule `json:"node_transfers,omitempty" yaml:"node_transfers,omitempty"`
}

// ParseFile decodes a data_mapping document. Top-level node_transfers are
// attached to both run modes.
func ParseFile(data []byte) (*File, error) {
	var f File
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.New(errors.KindConfig, "parse data_mapping", err)
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.KindConfig, "parse data_mapping", err)
	}
	if f.NodeTransfers != nil {
		if f.Developing != nil && f.Developing.NodeTransfers == nil {
			f.Developing.NodeTransfers = f.NodeTransfers
		}
		if f.Released != nil && f.Released.NodeTransfers == nil {
			f.Released.NodeTransfers = f.NodeTransfers
		}
	}
	return &f, nil
}

// ForMode returns the rule set for the given run mode, falling back to the
// built-in defaults.
func (f *File) ForMode(mode string) RuleSet {
	if f != nil {
		if mode == "developing" && f.Developing != nil {
			return *f.Developing
		}
		if mode == "released" && f.Released != nil {
			return *f.Released
		}
	}
	return DefaultRules(mode)
}

// Result carries the outcome of applying a rule set.
type Result struct {
	Patch       map[string]any
	Resume      map[string]any
	Diagnostics []string
}

// Apply evaluates the rule set against (event, state). Rules are pure: they
// read only their inputs, and evaluation order follows source path order, so
// the result is deterministic. Missing source paths contribute nothing.
func Apply(rs RuleSet, env Envelope, st state.State) Result {
	res := Result{
		Patch:  map[string]any{},
		Resume: map[string]any{},
	}
	applyRules(rs.Mappings, env, st, &res)
	return res
}

// ApplyForNode applies skill-level rules, then the node's own transfer rules.
func ApplyForNode(rs RuleSet, nodeID string, env Envelope, st state.State) Result {
	res := Apply(rs, env, st)
	if rules, ok := rs.NodeTransfers[nodeID]; ok {
		applyRules(rules, env, st, &res)
	}
	return res
}

func applyRules(rules []Rule, env Envelope, st state.State, res *Result) {
	eventRoot := envelopeRoot(env)
	for _, rule := range rules {
		val, found := resolveFrom(rule.From, eventRoot, st)
		if !found {
			continue
		}
		val = applyTransform(val, rule.Transform)
		policy := rule.OnConflict
		if policy == "" {
			policy = ConflictOverwrite
		}
		for _, tgt := range rule.To {
			root, rest, ok := splitTarget(tgt.Target)
			if !ok {
				res.Diagnostics = append(res.Diagnostics,
					fmt.Sprintf("mapping target %q: unknown root", tgt.Target))
				continue
			}
			dst := res.Patch
			if root == "resume" {
				dst = res.Resume
			}
			if err := writeTarget(dst, rest, val, policy); err != nil {
				res.Diagnostics = append(res.Diagnostics,
					fmt.Sprintf("mapping target %q: %v", tgt.Target, err))
				slog.Debug("event.mapping.conflict",
					slog.String("target", tgt.Target),
					slog.String("error", err.Error()))
			}
		}
	}
}

func envelopeRoot(env Envelope) map[string]any {
	return map[string]any{
		"type":    string(env.Type),
		"data":    env.Data,
		"src":     env.Src,
		"source":  env.Src,
		"tag":     env.Tag,
		"ts":      env.TS,
		"ctx":     env.Ctx,
		"context": env.Ctx,
	}
}

// resolveFrom returns the first non-missing, non-nil value among the dotted
// source paths, each rooted at event. or state..
func resolveFrom(from []string, eventRoot map[string]any, st state.State) (any, bool) {
	for _, path := range from {
		root, rest, ok := strings.Cut(path, ".")
		if !ok {
			continue
		}
		var v any
		var found bool
		switch root {
		case "event":
			v, found = state.GetPath(eventRoot, rest)
		case "state":
			v, found = state.GetPath(map[string]any(st), rest)
		default:
			continue
		}
		if found && v != nil {
			return v, true
		}
	}
	return nil, false
}

func splitTarget(target string) (root, rest string, ok bool) {
	root, rest, found := strings.Cut(target, ".")
	if !found || rest == "" {
		return "", "", false
	}
	if root != "state" && root != "resume" {
		return "", "", false
	}
	return root, rest, true
}

// writeTarget writes value at path with the rule's conflict policy.
func writeTarget(dst map[string]any, path string, value any, policy string) error {
	existing, exists := state.GetPath(dst, path)
	switch policy {
	case ConflictSkip:
		if exists && existing != nil {
			return nil
		}
	case ConflictAppend:
		return state.AppendPath(dst, path, value)
	case ConflictMerge, "merge_deep", "merge_shallow":
		if exists {
			oldMap, oldOK := existing.(map[string]any)
			newMap, newOK := value.(map[string]any)
			if oldOK && newOK {
				merged := state.State(oldMap)
				state.DeepMerge(merged, newMap)
				return state.SetPath(dst, path, map[string]any(merged))
			}
			// Non-dict sides fall through to overwrite with a diagnostic.
			if err := state.SetPath(dst, path, value); err != nil {
				return err
			}
			return fmt.Errorf("merge on non-dict value, overwrote (%T <- %T)", existing, value)
		}
	}
	return state.SetPath(dst, path, value)
}

func applyTransform(v any, transform string) any {
	switch transform {
	case "to_string":
		if s, ok := v.(string); ok {
			return s
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return v
	}
}
