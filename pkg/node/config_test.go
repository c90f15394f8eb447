// SPDX-License-Identifier: Apache-2.0
package node

import "testing"

func TestConfigValueShapes(t *testing.T) {
	cfg := Config{
		"flat": "a",
		"inputsValues": map[string]any{
			"wrapped": map[string]any{"type": "constant", "content": "b"},
			"bare":    "c",
		},
		"inputs": map[string]any{
			"legacy": map[string]any{"type": "ref", "content": "d"},
		},
	}

	for key, want := range map[string]string{
		"flat": "a", "wrapped": "b", "bare": "c", "legacy": "d",
	} {
		if got := cfg.String("", key); got != want {
			t.Errorf("String(%q) = %q, want %q", key, got, want)
		}
	}
	if got := cfg.String("fallback", "absent"); got != "fallback" {
		t.Errorf("String(absent) = %q", got)
	}
}

func TestConfigTypedGetters(t *testing.T) {
	cfg := Config{
		"temperature": "0.7",
		"limit":       float64(12),
		"enabled":     "true",
	}
	if got := cfg.Float(0.5, "temperature"); got != 0.7 {
		t.Errorf("Float = %v", got)
	}
	if got := cfg.Int(0, "limit"); got != 12 {
		t.Errorf("Int = %v", got)
	}
	if !cfg.Bool(false, "enabled") {
		t.Error("Bool = false")
	}
	if got := cfg.Int(42, "missing"); got != 42 {
		t.Errorf("Int default = %v", got)
	}
}

func TestConfigAliasOrder(t *testing.T) {
	cfg := Config{"modelName": "gpt-4o", "model": "ignored"}
	if got := cfg.String("", "modelName", "model"); got != "gpt-4o" {
		t.Errorf("first alias must win, got %q", got)
	}
}
