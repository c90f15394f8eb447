// SPDX-License-Identifier: Apache-2.0
// Package catalog builds and serves the agent's published skill set, merging
// database, cloud and code-defined sources with a fixed precedence.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ecanlabs/weave/pkg/event"
	"github.com/ecanlabs/weave/pkg/graph"
)

// Source names where a skill definition came from.
type Source string

const (
	SourceDB    Source = "db"
	SourceCloud Source = "cloud"
	SourceCode  Source = "code"
)

// Run modes select which mapping rule set applies.
const (
	ModeDeveloping = "developing"
	ModeReleased   = "released"
)

// Skill is a published, compiled skill. Immutable after publication; hot
// reload swaps whole Skill values.
type Skill struct {
	ID          string
	Name        string
	Owner       string
	Version     string
	Mode        string
	Source      Source
	Graph       *graph.Compiled
	Rules       event.RuleSet
	Breakpoints []string
}

// RuleSet returns the skill's mapping rules with the compiled per-node
// transfers attached.
func (s *Skill) RuleSet() event.RuleSet {
	rs := s.Rules
	if rs.NodeTransfers == nil && s.Graph != nil && len(s.Graph.NodeTransfers) > 0 {
		rs.NodeTransfers = s.Graph.NodeTransfers
	}
	return rs
}

// CodeSkillID derives the stable identity of a code-defined skill from its
// name and source, so rebuilds keep the same id.
func CodeSkillID(name string, source Source) string {
	sum := sha256.Sum256([]byte(name + "\x00" + string(source)))
	return hex.EncodeToString(sum[:8])
}

// Lookup resolves skills by name. The published Catalog satisfies it.
type Lookup interface {
	Get(name string) (*Skill, bool)
	Names() []string
}
