// SPDX-License-Identifier: Apache-2.0
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ecanlabs/weave/pkg/graph"
)

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "error"
	Message string `json:"message,omitempty"`
}

// runValidate parses and compiles each diagram file and reports per-file
// results. Exit code 1 when any file fails.
func runValidate(flags globalFlags, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: weave validate <diagram files...>"))
	}

	results := make([]checkResult, 0, len(args))
	hasError := false
	for _, path := range args {
		res := validateDiagram(path)
		if res.Status == "error" {
			hasError = true
		}
		results = append(results, res)
	}

	if flags.JSON {
		json.NewEncoder(os.Stdout).Encode(results)
	} else {
		for _, res := range results {
			if res.Message != "" {
				fmt.Printf("%-7s %s: %s\n", res.Status, res.Name, res.Message)
			} else {
				fmt.Printf("%-7s %s\n", res.Status, res.Name)
			}
		}
	}
	if hasError {
		os.Exit(1)
	}
}

func validateDiagram(path string) checkResult {
	raw, err := os.ReadFile(path)
	if err != nil {
		return checkResult{Name: path, Status: "error", Message: err.Error()}
	}
	diagram, err := graph.Parse(raw)
	if err != nil {
		return checkResult{Name: path, Status: "error", Message: err.Error()}
	}
	compiled, err := graph.Compile(diagram)
	if err != nil {
		return checkResult{Name: path, Status: "error", Message: err.Error()}
	}
	msg := fmt.Sprintf("%s: %d nodes", diagram.SkillName, compiled.Graph.Len())
	if n := len(compiled.NodeTransfers); n > 0 {
		msg = fmt.Sprintf("%s, %d nodes with transfer rules", msg, n)
	}
	return checkResult{Name: path, Status: "ok", Message: msg}
}
