// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ecanlabs/weave/pkg/config"
	"github.com/ecanlabs/weave/pkg/engine"
	"github.com/ecanlabs/weave/pkg/graph"
	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/node"
	"github.com/ecanlabs/weave/pkg/state"
	"github.com/ecanlabs/weave/pkg/telemetry"
)

// runOnce executes a diagram from disk through a single engine run and
// prints the final state. Suspended runs report the waiting node instead.
func runOnce(ctx context.Context, flags globalFlags, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: weave run <diagram.json|yaml> [message]")
	}
	path := args[0]
	text := strings.Join(args[1:], " ")

	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read diagram: %w", err)
	}
	diagram, err := graph.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse diagram: %w", err)
	}
	compiled, err := graph.Compile(diagram)
	if err != nil {
		return fmt.Errorf("compile %s: %w", diagram.SkillName, err)
	}

	provider := llm.NewHTTP(cfg.LLM.Provider, cfg.LLM.BaseURL,
		llm.WithModel(cfg.LLM.Model),
		llm.WithAPIKey(cfg.LLM.APIKey),
	)

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	eng := engine.New()
	st := state.New(cfg.Agent.ID, "cli", "", "cli", text)
	res, err := eng.Run(ctx, compiled.Graph, st, &node.RunContext{
		Node: node.Identity{
			SkillName: diagram.SkillName,
			Owner:     diagram.Owner,
		},
		LLM: provider,
		Log: log,
	})
	if err != nil {
		return err
	}

	if flags.JSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"run_id": res.RunID,
			"status": string(res.Status),
			"state":  res.State,
		})
	}

	fmt.Printf("run %s: %s\n", res.RunID, res.Status)
	if res.Status == engine.StatusSuspended && res.Suspension != nil {
		fmt.Printf("waiting at node %s (tag %q)\n",
			res.Suspension.NodeID, string(res.Suspension.Tag))
		return nil
	}
	out, err := json.MarshalIndent(res.State, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
