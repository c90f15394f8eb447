// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecanlabs/weave/pkg/graph"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	rec := Record{
		ID:      "s1",
		Name:    "alpha",
		Owner:   "tests",
		Version: "3",
		Mode:    ModeReleased,
		Source:  SourceDB,
		Diagram: testDiagram("alpha"),
		Mapping: []byte(`{"released": {"mappings": []}}`),
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Upsert by id.
	rec.Version = "4"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	recs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 || recs[0].Version != "4" || recs[0].Name != "alpha" {
		t.Fatalf("loaded = %+v", recs)
	}
	if len(recs[0].Diagram) == 0 || len(recs[0].Mapping) == 0 {
		t.Fatal("blobs lost")
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if recs, _ := store.Load(ctx); len(recs) != 0 {
		t.Fatalf("records after delete = %d", len(recs))
	}
}

func TestSQLiteStoreRejectsCodeRows(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	rec := Record{ID: "c1", Name: "alpha", Source: SourceCode, Diagram: testDiagram("alpha")}
	if err := store.Save(context.Background(), rec); err == nil {
		t.Fatal("code-sourced record must not persist")
	}

	// A row smuggled in with a code source is dropped on load.
	_, err = store.db.Exec(`INSERT INTO weave_skills
		(id, name, owner, version, mode, source, diagram_json, mapping_json, updated_at)
		VALUES ('c2', 'smuggled', '', '', '', 'code', x'7b7d', NULL, 0)`)
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}
	recs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("code row leaked: %+v", recs)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDirLoader(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "alpha_skill", "diagram_dir", "alpha_skill.json"),
		string(testDiagram("alpha")))
	writeFile(t, filepath.Join(root, "alpha_skill", "data_mapping.json"),
		`{"released": {"mappings": []}}`)

	// beta's code_dir is newer than its diagram_dir: the diagram is stale.
	writeFile(t, filepath.Join(root, "beta_skill", "diagram_dir", "beta_skill.json"),
		string(testDiagram("beta")))
	writeFile(t, filepath.Join(root, "beta_skill", "code_dir", "beta.py"), "pass")
	past := time.Now().Add(-time.Hour)
	diagramFile := filepath.Join(root, "beta_skill", "diagram_dir", "beta_skill.json")
	if err := os.Chtimes(diagramFile, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(filepath.Dir(diagramFile), past, past); err != nil {
		t.Fatalf("chtimes dir: %v", err)
	}

	// Not a skill directory.
	writeFile(t, filepath.Join(root, "notes", "readme.txt"), "ignore me")

	recs, err := NewDirLoader(root).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "alpha" {
		t.Fatalf("records = %+v", recs)
	}
	if len(recs[0].Mapping) == 0 {
		t.Fatal("data_mapping.json not picked up")
	}
	if recs[0].Source != SourceDB {
		t.Fatalf("source = %s", recs[0].Source)
	}
}

func TestDirLoaderMergesBundle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "multi_skill", "diagram_dir", "multi_skill.json"),
		string(testDiagram("multi")))
	writeFile(t, filepath.Join(root, "multi_skill", "diagram_dir", "multi_skill_bundle.json"),
		`{"sheets": [{"name": "extra", "document": {"nodes": [], "edges": []}}]}`)

	recs, err := NewDirLoader(root).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
	d, err := graph.Parse(recs[0].Diagram)
	if err != nil {
		t.Fatalf("parse merged diagram: %v", err)
	}
	if d.Bundle == nil || len(d.Bundle.Sheets) != 1 || d.Bundle.Sheets[0].Name != "extra" {
		t.Fatalf("bundle = %+v", d.Bundle)
	}
}

func TestCloudClientFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/skills/snapshot" {
			http.NotFound(w, r)
			return
		}
		if fail.Load() {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"skills": [{"id": "c1", "name": "alpha", "owner": "cloud",
			"mode": "released", "diagram": ` + string(testDiagram("alpha")) + `}]}`))
	}))
	defer srv.Close()

	client := NewCloudClient(srv.URL)
	recs, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "alpha" || recs[0].Source != SourceCloud {
		t.Fatalf("records = %+v", recs)
	}

	fail.Store(true)
	recs, err = client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("cached snapshot: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "alpha" {
		t.Fatalf("cache lost: %+v", recs)
	}
}

func TestWatcherRebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "alpha_skill", "diagram_dir", "alpha_skill.json"),
		string(testDiagram("alpha")))

	b := NewBuilder(WithSkillDir(root))
	c, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d", c.Len())
	}

	w := NewWatcher(b, c, []string{root}, WithInterval(20*time.Millisecond))
	w.Start(context.Background())
	defer w.Stop()

	// Drop a second skill and wait for the reload to publish it.
	time.Sleep(30 * time.Millisecond)
	writeFile(t, filepath.Join(root, "gamma_skill", "diagram_dir", "gamma_skill.json"),
		string(testDiagram("gamma")))

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := c.Get("gamma"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never published the new skill")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
