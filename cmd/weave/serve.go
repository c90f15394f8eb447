// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ecanlabs/weave/pkg/catalog"
	"github.com/ecanlabs/weave/pkg/config"
	"github.com/ecanlabs/weave/pkg/engine"
	"github.com/ecanlabs/weave/pkg/guardrails"
	"github.com/ecanlabs/weave/pkg/llm"
	weavemcp "github.com/ecanlabs/weave/pkg/mcp"
	"github.com/ecanlabs/weave/pkg/task"
	"github.com/ecanlabs/weave/pkg/telemetry"
)

const (
	shutdownGrace      = 10 * time.Second
	checkpointMaxAge   = 72 * time.Hour
	checkpointSweepGap = time.Hour
)

func runServe(ctx context.Context, flags globalFlags) error {
	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	// Hot-reload of the config file; the live handles pick up what they can
	// apply without a restart, currently the log level.
	if cfgPath := config.CLIPath(flags.ConfigArgs); cfgPath != "" {
		watcher := config.NewWatcher(cfg,
			func() (*config.Config, error) { return config.LoadWithCLI(flags.ConfigArgs) },
			[]string{cfgPath},
			config.WithWatchLogger(log),
		)
		watcher.OnChange(func(next *config.Config) {
			telemetry.SetLogLevel(next.Log.Level)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	shutdownTelemetry, err := telemetry.InitWithConfig("weave", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		OTLPHeaders:        cfg.Telemetry.Headers(),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(shCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err.Error())
		}
	}()

	// Checkpoint store, durable when a path is configured.
	var store engine.CheckpointStore
	if cfg.Agent.CheckpointPath != "" {
		s, err := engine.OpenSQLiteStore(cfg.Agent.CheckpointPath)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer s.Close()
		go sweepCheckpoints(ctx, s, log)
		store = s
	} else {
		store = engine.NewMemoryStore()
	}
	eng := engine.New(engine.WithStore(store))

	// MCP tool server. A failed boot load degrades tool discovery, it does
	// not stop the daemon.
	endpoint := cfg.MCP.Endpoint
	if endpoint == "" {
		endpoint = weavemcp.LocalEndpoint()
	}
	toolClient, err := weavemcp.NewClientWithStreamableHTTP(endpoint,
		weavemcp.WithTimeout(time.Duration(cfg.MCP.TimeoutSeconds)*time.Second),
		weavemcp.WithRetry(cfg.MCP.Retries, 200*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("mcp client: %w", err)
	}
	registry := weavemcp.NewRegistry()
	if err := registry.Load(ctx, toolClient); err != nil {
		log.Warn("mcp.registry.load", "endpoint", endpoint, "error", err.Error())
	}

	provider := llm.NewHTTP(cfg.LLM.Provider, cfg.LLM.BaseURL,
		llm.WithModel(cfg.LLM.Model),
		llm.WithAPIKey(cfg.LLM.APIKey),
	)

	// Skill catalog from disk, store and cloud sources.
	builderOpts := []catalog.BuilderOption{catalog.WithBuilderLogger(log)}
	if cfg.Catalog.DBPath != "" {
		skillStore, err := catalog.OpenSQLiteStore(cfg.Catalog.DBPath)
		if err != nil {
			return fmt.Errorf("open skill store: %w", err)
		}
		defer skillStore.Close()
		builderOpts = append(builderOpts, catalog.WithStore(skillStore))
	}
	if cfg.Catalog.CloudURL != "" {
		builderOpts = append(builderOpts, catalog.WithCloud(catalog.NewCloudClient(cfg.Catalog.CloudURL)))
	}
	for _, dir := range cfg.Catalog.SkillDirs {
		builderOpts = append(builderOpts, catalog.WithSkillDir(dir))
	}
	builder := catalog.NewBuilder(builderOpts...)
	cat, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	log.Info("catalog.ready", "skills", cat.Len())

	if len(cfg.Catalog.SkillDirs) > 0 {
		watcher := catalog.NewWatcher(builder, cat, cfg.Catalog.SkillDirs,
			catalog.WithInterval(time.Duration(cfg.Catalog.WatchIntervalSeconds)*time.Second))
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// The mesh is the relay surface chat-out nodes send through; a single
	// daemon still registers its runner so envelopes addressed to its own
	// agent id land on the chatter task.
	mesh := task.NewMesh()
	runnerOpts := []task.RunnerOption{
		task.WithEngine(eng),
		task.WithCollaborators(task.Collaborators{
			LLM:      provider,
			Tools:    toolClient,
			Registry: registry,
			Relay:    mesh,
		}),
		task.WithMaxParallel(cfg.Agent.MaxParallel),
		task.WithPendingTTL(time.Duration(cfg.Agent.PendingTTLSeconds)*time.Second),
		task.WithRunnerLogger(log),
	}
	if cfg.Agent.Guardrails {
		runnerOpts = append(runnerOpts, task.WithGuardrails(guardrails.New(
			guardrails.WithInputChecker(guardrails.NewInjectionDetector()),
			guardrails.WithFilter(guardrails.NewPIIFilter()),
		)))
	}
	runner := task.NewRunner(cfg.Agent.ID, cfg.Agent.Name, runnerOpts...)
	mesh.Register(runner)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := runner.Stop(drainCtx); err != nil {
			log.Warn("runner.stop", "error", err.Error())
		}
	}()

	if cfg.Agent.ChatSkill != "" {
		skill, ok := cat.Get(cfg.Agent.ChatSkill)
		if !ok {
			return fmt.Errorf("chat skill %q not in catalog", cfg.Agent.ChatSkill)
		}
		if _, err := runner.Spawn(task.Spec{
			ID:        "chat",
			Skill:     skill,
			QueueSize: cfg.Agent.QueueSize,
			Chatter:   true,
		}); err != nil {
			return fmt.Errorf("spawn chatter: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Agent.ListenAddr,
		Handler:           newIngress(runner, cat),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("ingress.listen", "addr", cfg.Agent.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("ingress: %w", err)
	case <-ctx.Done():
	}

	log.Info("daemon.shutdown")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shCtx)
}

// sweepCheckpoints removes stale suspended-run snapshots so the checkpoint
// file does not grow without bound.
func sweepCheckpoints(ctx context.Context, store *engine.SQLiteStore, log *slog.Logger) {
	ticker := time.NewTicker(checkpointSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx, checkpointMaxAge)
			if err != nil {
				log.Warn("checkpoint.sweep", "error", err.Error())
				continue
			}
			if removed > 0 {
				log.Info("checkpoint.sweep", "removed", removed)
			}
		}
	}
}

type taskInfo struct {
	ID       string `json:"id"`
	Skill    string `json:"skill"`
	Status   string `json:"status"`
	RunID    string `json:"run_id,omitempty"`
	QueueLen int    `json:"queue_len"`
}

// newIngress exposes the event ingress and a small status surface.
func newIngress(runner *task.Runner, cat *catalog.Catalog) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := runner.Route(r.Context(), payload); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/tasks/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := runner.Deliver(r.Context(), r.PathValue("id"), payload); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		tasks := runner.Tasks()
		out := make([]taskInfo, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskInfo{
				ID:       t.ID,
				Skill:    t.Skill.Name,
				Status:   string(t.Status()),
				RunID:    t.RunID(),
				QueueLen: t.QueueLen(),
			})
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("POST /v1/breakpoints", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID  string `json:"task_id"`
			NodeID  string `json:"node_id"`
			Enabled *bool  `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.TaskID == "" || req.NodeID == "" {
			http.Error(w, "task_id and node_id required", http.StatusBadRequest)
			return
		}
		t, ok := runner.Task(req.TaskID)
		if !ok {
			http.Error(w, "no such task", http.StatusNotFound)
			return
		}
		bp := t.Skill.Graph.Breakpoints
		if req.Enabled == nil || *req.Enabled {
			bp.Set(req.NodeID)
		} else {
			bp.Clear(req.NodeID)
		}
		writeJSON(w, map[string]any{"task_id": req.TaskID, "breakpoints": bp.List()})
	})

	mux.HandleFunc("GET /v1/skills", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"version": cat.Version(),
			"names":   cat.Names(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
