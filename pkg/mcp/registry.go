package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolLister abstracts tool discovery for the registry.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Registry is the process-local tool schema registry. It is loaded once at
// boot and read-only at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]mcp.Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]mcp.Tool)}
}

// Load discovers tools from the lister and replaces the registry contents.
func (r *Registry) Load(ctx context.Context, lister ToolLister) error {
	tools, err := lister.ListTools(ctx)
	if err != nil {
		return errors.New(errors.KindToolCallFailure, "load tool schemas", err)
	}
	r.Register(tools...)
	return nil
}

// Register adds tool definitions directly. Used at boot and in tests.
func (r *Registry) Register(tools ...mcp.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name] = t
	}
}

// Lookup returns the schema for a tool name.
func (r *Registry) Lookup(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Filter returns tools whose description carries the given category and
// sub-category tags. Tags are embedded in descriptions as
// "[category: x]" and "[sub_category: y]"; matching is case-insensitive and
// an empty filter matches everything.
func (r *Registry) Filter(category, subCategory string) []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []mcp.Tool
	for _, t := range r.tools {
		desc := strings.ToLower(t.Description)
		if category != "" && !strings.Contains(desc, strings.ToLower(category)) {
			continue
		}
		if subCategory != "" && !strings.Contains(desc, strings.ToLower(subCategory)) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// toolDefaults supplies values for known required fields when callers left
// them empty. Keyed by tool name, then field.
var toolDefaults = map[string]map[string]any{
	"query_components": {
		"site":  "digikey",
		"limit": 10,
	},
	"search_components": {
		"limit": 10,
	},
	"send_chat_message": {
		"role": "assistant",
	},
}

// CoerceInput validates args against a tool schema and coerces each field to
// its declared type. Missing required fields are back-filled from the
// defaults table when present; a required field that stays missing is a
// schema validation error.
func CoerceInput(tool mcp.Tool, args map[string]any) (map[string]any, error) {
	schema := tool.InputSchema
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	props := schema.Properties
	for name, raw := range props {
		spec, _ := raw.(map[string]any)
		typ, _ := spec["type"].(string)
		v, present := out[name]
		if !present {
			continue
		}
		coerced, err := coerceValue(v, typ)
		if err != nil {
			return nil, errors.New(errors.KindSchemaValidation,
				fmt.Sprintf("field %q", name), err).
				WithAttribute("tool.name", tool.Name)
		}
		out[name] = coerced
	}

	defaults := toolDefaults[tool.Name]
	for _, req := range schema.Required {
		if v, ok := out[req]; ok && v != nil && v != "" {
			continue
		}
		if def, ok := defaults[req]; ok {
			out[req] = def
			continue
		}
		// Empty string into a numeric field coerces to zero rather than
		// failing the call.
		if spec, ok := props[req].(map[string]any); ok {
			if typ, _ := spec["type"].(string); typ == "integer" || typ == "number" {
				out[req] = 0
				continue
			}
		}
		if _, present := out[req]; present {
			continue
		}
		return nil, errors.New(errors.KindSchemaValidation,
			fmt.Sprintf("missing required field %q", req), nil).
			WithAttribute("tool.name", tool.Name)
	}
	return out, nil
}

func coerceValue(v any, typ string) (any, error) {
	switch typ {
	case "integer":
		switch tv := v.(type) {
		case int:
			return tv, nil
		case int64:
			return int(tv), nil
		case float64:
			return int(tv), nil
		case string:
			if strings.TrimSpace(tv) == "" {
				return 0, nil
			}
			n, err := strconv.Atoi(strings.TrimSpace(tv))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to integer", tv)
			}
			return n, nil
		case bool:
			if tv {
				return 1, nil
			}
			return 0, nil
		}
	case "number":
		switch tv := v.(type) {
		case float64:
			return tv, nil
		case int:
			return float64(tv), nil
		case string:
			if strings.TrimSpace(tv) == "" {
				return float64(0), nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", tv)
			}
			return f, nil
		}
	case "boolean":
		switch tv := v.(type) {
		case bool:
			return tv, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(tv)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no", "":
				return false, nil
			}
			return nil, fmt.Errorf("cannot coerce %q to boolean", tv)
		case int:
			return tv != 0, nil
		case float64:
			return tv != 0, nil
		}
	case "string":
		switch tv := v.(type) {
		case string:
			return tv, nil
		default:
			return fmt.Sprintf("%v", tv), nil
		}
	case "object":
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	case "array":
		if l, ok := v.([]any); ok {
			return l, nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return v, nil
}

// ResultText extracts concatenated text content from a tool result.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, item := range result.Content {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
