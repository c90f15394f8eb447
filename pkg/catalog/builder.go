// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ecanlabs/weave/pkg/errors"
)

// Load timeouts for the parallel startup phase.
const (
	DBLoadTimeout    = 3 * time.Second
	CloudLoadTimeout = 5 * time.Second
)

// Builder assembles the published catalog from its three sources: persisted
// records (DB and disk), the cloud snapshot, and code-defined builders.
// Merge precedence on name collision is DB, then Cloud, then Code.
type Builder struct {
	store  Store
	cloud  SnapshotSource
	code   *CodeRegistry
	dirs   []*DirLoader
	log    *slog.Logger
	tracer trace.Tracer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStore attaches the persisted skill store.
func WithStore(store Store) BuilderOption {
	return func(b *Builder) { b.store = store }
}

// WithCloud attaches the cloud snapshot source.
func WithCloud(cloud SnapshotSource) BuilderOption {
	return func(b *Builder) { b.cloud = cloud }
}

// WithCode attaches the code-defined skill registry.
func WithCode(code *CodeRegistry) BuilderOption {
	return func(b *Builder) { b.code = code }
}

// WithSkillDir adds a disk skill directory, loaded at DB precedence.
func WithSkillDir(root string) BuilderOption {
	return func(b *Builder) { b.dirs = append(b.dirs, NewDirLoader(root)) }
}

// WithBuilderLogger sets the builder logger.
func WithBuilderLogger(log *slog.Logger) BuilderOption {
	return func(b *Builder) { b.log = log }
}

// NewBuilder constructs a builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		code:   NewCodeRegistry(),
		log:    slog.Default(),
		tracer: otel.Tracer("weave/catalog"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the startup sequence and returns a freshly published catalog.
func (b *Builder) Build(ctx context.Context) (*Catalog, error) {
	c := NewCatalog()
	if err := b.Rebuild(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Rebuild reassembles the skill set and swaps it into the given catalog.
// Source failures degrade the build rather than failing it: whatever loaded
// is published.
func (b *Builder) Rebuild(ctx context.Context, c *Catalog) error {
	ctx, span := b.tracer.Start(ctx, "catalog.build")
	defer span.End()
	start := time.Now()

	dbRecs, cloudRecs := b.loadSources(ctx)

	// Cloud wins over the local DB view; reconcile it back asynchronously
	// so the next offline boot sees the same set.
	if len(cloudRecs) > 0 && b.store != nil {
		go b.reconcile(context.WithoutCancel(ctx), cloudRecs)
	}

	merged := map[string]*Skill{}
	order := []string{}
	add := func(s *Skill) {
		if s == nil {
			return
		}
		if _, seen := merged[s.Name]; !seen {
			order = append(order, s.Name)
		}
		merged[s.Name] = s
	}

	for _, rec := range dbRecs {
		add(b.compileRecord(rec))
	}
	for _, rec := range cloudRecs {
		add(b.compileRecord(rec))
	}
	if b.code != nil {
		for _, s := range b.code.BuildAll(ctx) {
			add(s)
		}
	}

	skills := make([]*Skill, 0, len(order))
	for _, name := range order {
		skills = append(skills, merged[name])
	}
	if len(skills) == 0 && len(dbRecs) == 0 && len(cloudRecs) == 0 && (b.code == nil || b.code.Len() == 0) {
		return errors.New(errors.KindConfig, "no skill sources produced anything", nil)
	}

	c.Swap(skills)
	span.SetAttributes(
		attribute.Int("skills", len(skills)),
		attribute.Int("db", len(dbRecs)),
		attribute.Int("cloud", len(cloudRecs)),
	)
	b.log.Info("catalog.published",
		"skills", len(skills),
		"db", len(dbRecs),
		"cloud", len(cloudRecs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// loadSources runs the DB and cloud loads in parallel, each under its own
// timeout. Failures are logged and yield empty slices.
func (b *Builder) loadSources(ctx context.Context) (dbRecs, cloudRecs []Record) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loadCtx, cancel := context.WithTimeout(gctx, DBLoadTimeout)
		defer cancel()
		if b.store != nil {
			recs, err := b.store.Load(loadCtx)
			if err != nil {
				b.log.Warn("catalog.db.load_failed", "error", err.Error())
			} else {
				dbRecs = recs
			}
		}
		for _, loader := range b.dirs {
			recs, err := loader.Load(loadCtx)
			if err != nil {
				b.log.Warn("catalog.dir.load_failed", "error", err.Error())
				continue
			}
			dbRecs = append(dbRecs, recs...)
		}
		return nil
	})

	g.Go(func() error {
		if b.cloud == nil {
			return nil
		}
		loadCtx, cancel := context.WithTimeout(gctx, CloudLoadTimeout)
		defer cancel()
		recs, err := b.cloud.Snapshot(loadCtx)
		if err != nil {
			b.log.Warn("catalog.cloud.load_failed", "error", err.Error())
			return nil
		}
		cloudRecs = recs
		return nil
	})

	_ = g.Wait()
	return dbRecs, cloudRecs
}

func (b *Builder) compileRecord(rec Record) *Skill {
	skill, err := rec.Compile()
	if err != nil {
		b.log.Warn("catalog.compile_failed",
			"skill", rec.Name, "source", string(rec.Source), "error", err.Error())
		return nil
	}
	return skill
}

func (b *Builder) reconcile(ctx context.Context, recs []Record) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	saved := 0
	for _, rec := range recs {
		if err := b.store.Save(ctx, rec); err != nil {
			b.log.Warn("catalog.reconcile.save_failed", "skill", rec.Name, "error", err.Error())
			continue
		}
		saved++
	}
	b.log.Info("catalog.reconciled", "saved", saved, "total", len(recs))
}
