// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/event"
	"github.com/ecanlabs/weave/pkg/graph"
)

// Record is a persisted skill definition: the raw diagram plus its mapping
// document, before compilation.
type Record struct {
	ID        string
	Name      string
	Owner     string
	Version   string
	Mode      string
	Source    Source
	Diagram   []byte
	Mapping   []byte
	UpdatedAt time.Time
}

// Compile turns a persisted record into a published Skill.
func (rec Record) Compile() (*Skill, error) {
	d, err := graph.Parse(rec.Diagram)
	if err != nil {
		return nil, errors.New(errors.KindCompileFailure, "parse skill diagram", err).
			WithContext("skill", rec.Name)
	}
	if d.SkillName == "" {
		d.SkillName = rec.Name
	}
	if d.Owner == "" {
		d.Owner = rec.Owner
	}
	compiled, err := graph.Compile(d)
	if err != nil {
		return nil, err
	}

	mode := rec.Mode
	if mode == "" {
		mode = ModeReleased
	}
	rules := event.DefaultRules(mode)
	if len(rec.Mapping) > 0 {
		f, err := event.ParseFile(rec.Mapping)
		if err != nil {
			return nil, errors.New(errors.KindConfig, "parse skill mapping", err).
				WithContext("skill", rec.Name)
		}
		rules = f.ForMode(mode)
	}
	if rules.NodeTransfers == nil {
		rules.NodeTransfers = compiled.NodeTransfers
	}

	id := rec.ID
	if id == "" {
		id = CodeSkillID(rec.Name, rec.Source)
	}
	return &Skill{
		ID:          id,
		Name:        rec.Name,
		Owner:       rec.Owner,
		Version:     rec.Version,
		Mode:        mode,
		Source:      rec.Source,
		Graph:       compiled,
		Rules:       rules,
		Breakpoints: compiled.Breakpoints.List(),
	}, nil
}

// Store persists skill records.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}

// SnapshotSource serves the cloud's view of the skill set.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]Record, error)
}
