// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/graph"
)

// DirLoader reads skill definitions from disk. Layout per skill:
//
//	<name>_skill/
//	    diagram_dir/<name>_skill.json
//	    diagram_dir/<name>_skill_bundle.json   (optional)
//	    data_mapping.json                      (optional)
//	    code_dir/                              (optional)
//
// A skill directory whose code_dir is newer than its diagram_dir is
// code-defined; the diagram is stale and the directory is skipped.
type DirLoader struct {
	root string
	log  *slog.Logger
}

// NewDirLoader builds a loader rooted at dir.
func NewDirLoader(root string) *DirLoader {
	return &DirLoader{root: root, log: slog.Default()}
}

// Load scans the root for *_skill directories and returns their records.
// Broken skill directories are skipped with a warning, not fatal.
func (l *DirLoader) Load(_ context.Context) ([]Record, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, errors.New(errors.KindConfig, "read skill root", err).
			WithContext("root", l.root)
	}

	var recs []Record
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), "_skill") {
			continue
		}
		rec, ok, err := l.loadOne(entry.Name())
		if err != nil {
			l.log.Warn("catalog.dir.skip", "skill_dir", entry.Name(), "error", err.Error())
			continue
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (l *DirLoader) loadOne(dirName string) (Record, bool, error) {
	name := strings.TrimSuffix(dirName, "_skill")
	base := filepath.Join(l.root, dirName)
	diagramDir := filepath.Join(base, "diagram_dir")
	codeDir := filepath.Join(base, "code_dir")

	diagramAt, hasDiagram := newestMTime(diagramDir)
	codeAt, hasCode := newestMTime(codeDir)
	if !hasDiagram {
		if hasCode {
			// Purely code-defined; the code registry owns it.
			return Record{}, false, nil
		}
		return Record{}, false, errors.New(errors.KindConfig, "skill has no diagram_dir", nil).
			WithContext("skill", name)
	}
	if hasCode && codeAt.After(diagramAt) {
		l.log.Debug("catalog.dir.code_newer", "skill", name)
		return Record{}, false, nil
	}

	diagramPath := filepath.Join(diagramDir, dirName+".json")
	data, err := os.ReadFile(diagramPath)
	if err != nil {
		return Record{}, false, errors.New(errors.KindConfig, "read skill diagram", err).
			WithContext("path", diagramPath)
	}

	// An exporter bundle rides in a sibling file; fold it into the diagram.
	if bundleData, err := os.ReadFile(filepath.Join(diagramDir, dirName+"_bundle.json")); err == nil {
		if data, err = mergeBundle(data, bundleData); err != nil {
			return Record{}, false, err
		}
	}

	rec := Record{
		ID:        CodeSkillID(name, SourceDB),
		Name:      name,
		Source:    SourceDB,
		Diagram:   data,
		UpdatedAt: diagramAt,
	}
	if mapping, err := os.ReadFile(filepath.Join(base, "data_mapping.json")); err == nil {
		rec.Mapping = mapping
	}
	return rec, true, nil
}

func mergeBundle(diagram, bundle []byte) ([]byte, error) {
	d, err := graph.Parse(diagram)
	if err != nil {
		return nil, err
	}
	var b graph.Bundle
	if err := json.Unmarshal(bundle, &b); err != nil {
		return nil, errors.New(errors.KindConfig, "parse skill bundle", err)
	}
	d.Bundle = &b
	return d.Marshal()
}

// newestMTime returns the latest modification time under dir.
func newestMTime(dir string) (time.Time, bool) {
	var newest time.Time
	found := false
	_ = filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		found = true
		return nil
	})
	return newest, found
}
