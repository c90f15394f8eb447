// SPDX-License-Identifier: Apache-2.0
package node

import "strconv"

// Config is a node's raw configuration block from the diagram. Diagram
// tooling wraps values as {type, content}; these helpers tolerate flat,
// wrapped and nested shapes so hand-written and editor-exported diagrams
// both load.
type Config map[string]any

// inputsValues returns the editor's inputsValues block, if present.
func (c Config) inputsValues() map[string]any {
	iv, _ := c["inputsValues"].(map[string]any)
	return iv
}

// content unwraps {type, content} wrappers, passing plain values through.
func content(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["content"]; ok {
			return inner
		}
	}
	return v
}

// Value looks a key up across the supported config shapes: flat key,
// inputsValues.<key>.content, then inputs.<key>. First hit wins.
func (c Config) Value(keys ...string) any {
	for _, key := range keys {
		if v, ok := c[key]; ok {
			if unwrapped := content(v); unwrapped != nil {
				return unwrapped
			}
		}
	}
	if iv := c.inputsValues(); iv != nil {
		for _, key := range keys {
			if v, ok := iv[key]; ok {
				if unwrapped := content(v); unwrapped != nil {
					return unwrapped
				}
			}
		}
	}
	if inputs, ok := c["inputs"].(map[string]any); ok {
		for _, key := range keys {
			if v, ok := inputs[key]; ok {
				return content(v)
			}
		}
	}
	return nil
}

// String returns the first present key rendered as a string, or def.
func (c Config) String(def string, keys ...string) string {
	v := c.Value(keys...)
	if v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return def
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	}
	return def
}

// Float returns the first present key as a float64, or def.
func (c Config) Float(def float64, keys ...string) float64 {
	switch v := c.Value(keys...).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the first present key as an int, or def.
func (c Config) Int(def int, keys ...string) int {
	switch v := c.Value(keys...).(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the first present key as a bool, or def.
func (c Config) Bool(def bool, keys ...string) bool {
	switch v := c.Value(keys...).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Map returns the first present key as a map, or nil.
func (c Config) Map(keys ...string) map[string]any {
	if m, ok := c.Value(keys...).(map[string]any); ok {
		return m
	}
	return nil
}

// List returns the first present key as a slice, or nil.
func (c Config) List(keys ...string) []any {
	if l, ok := c.Value(keys...).([]any); ok {
		return l
	}
	return nil
}
