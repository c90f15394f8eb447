// SPDX-License-Identifier: Apache-2.0
package node

import (
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ecanlabs/weave/pkg/state"
)

// EvalPredicate evaluates one condition-port predicate against the state.
// Supported shapes, in the order the flow editor emits them:
//
//	{"mode": "state.condition"}              truthiness of state.condition
//	{"mode": "state.case", "case": "x"}      state.case equals the label
//	{"mode": "custom", "expr": "..."}        Lua expression over a state table
//	{"left": {...}, "operator": "...", "right": {...}}  comparison
//
// A nil or empty value never matches; else ports are the compiler's job.
func EvalPredicate(value map[string]any, st state.State) bool {
	if len(value) == 0 {
		return false
	}

	switch mode, _ := value["mode"].(string); mode {
	case "state.condition":
		return Truthy(st[state.KeyCondition])
	case "state.case":
		label := firstString(value, "case", "value", "label")
		return label != "" && stringifyValue(st[state.KeyCase]) == label
	case "custom":
		expr := firstString(value, "expr", "expression")
		return expr != "" && evalLuaExpr(expr, st)
	}

	if op, _ := value["operator"].(string); op != "" {
		left := resolveOperand(value["left"], st)
		right := resolveOperand(value["right"], st)
		return compare(left, op, right)
	}
	return false
}

// Truthy reports whether a state value counts as true for branch routing.
// nil, false, zero, empty string and empty containers are false.
func Truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		s := strings.ToLower(strings.TrimSpace(tv))
		return s != "" && s != "false" && s != "0" && s != "none" && s != "null"
	case int:
		return tv != 0
	case int64:
		return tv != 0
	case float64:
		return tv != 0
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	}
	return true
}

// resolveOperand turns an operand spec into a concrete value. Refs address
// the state; the leading path element is a node id in editor exports and is
// skipped when the full path does not resolve.
func resolveOperand(spec any, st state.State) any {
	m, ok := spec.(map[string]any)
	if !ok {
		return spec
	}
	typ, _ := m["type"].(string)
	content := m["content"]
	if typ != "ref" {
		return content
	}

	path := refPath(content)
	if len(path) == 0 {
		return nil
	}
	if v, ok := state.GetPath(map[string]any(st), strings.Join(path, ".")); ok {
		return v
	}
	if len(path) > 1 {
		if v, ok := state.GetPath(map[string]any(st), strings.Join(path[1:], ".")); ok {
			return v
		}
	}
	return nil
}

func refPath(content any) []string {
	switch c := content.(type) {
	case string:
		return strings.Split(c, ".")
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return c
	}
	return nil
}

func compare(left any, op string, right any) bool {
	switch op {
	case "is_true":
		return Truthy(left)
	case "is_false":
		return !Truthy(left)
	case "is_empty", "empty":
		return !Truthy(left)
	case "is_not_empty", "not_empty":
		return Truthy(left)
	case "eq", "==", "equal":
		return stringifyValue(left) == stringifyValue(right)
	case "neq", "!=", "not_equal":
		return stringifyValue(left) != stringifyValue(right)
	case "contains":
		return strings.Contains(stringifyValue(left), stringifyValue(right))
	case "gt", ">":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l > r
	case "lt", "<":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l < r
	case "gte", ">=":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l >= r
	case "lte", "<=":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l <= r
	}
	return false
}

// evalLuaExpr evaluates a custom expression in the sandboxed interpreter
// with the state exposed as a table. Any evaluation error means no match.
func evalLuaExpr(expr string, st state.State) bool {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	L.SetGlobal("state", goToLua(L, map[string]any(st)))
	if err := L.DoString("return " + expr); err != nil {
		return false
	}
	return Truthy(luaToGo(L.Get(-1)))
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringifyValue(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		return f, err == nil
	case bool:
		if tv {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
