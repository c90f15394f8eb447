// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/resilience"
	"github.com/ecanlabs/weave/pkg/state"
)

const defaultCodeTimeout = 30 * time.Second

// NewCodeNode builds the user-code node. The script runs in a sandboxed Lua
// interpreter without os/io access and must define main(state) returning the
// updated state table. A script without a main entry point degrades to a
// pass-through with a warning, matching how broken user code should not take
// the whole skill down.
func NewCodeNode(cfg Config) Func {
	script := cfg.String("", "script")
	timeout := time.Duration(cfg.Int(int(defaultCodeTimeout/time.Second), "timeoutSec")) * time.Second

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()
		if script == "" {
			log.Warn("node.code.empty", "node", rc.Node.FullName())
			return Continue(st), nil
		}

		out, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: timeout}, func(ctx context.Context) (any, error) {
			return runScript(ctx, script, st, rc)
		})
		if err != nil {
			return Outcome{}, err
		}
		next, ok := out.(state.State)
		if !ok {
			return Continue(st), nil
		}
		return Continue(next), nil
	}
}

func runScript(ctx context.Context, script string, st state.State, rc *RunContext) (any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	// Base, table, string and math only: no filesystem or process access
	// from user scripts.
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	if err := L.DoString(script); err != nil {
		return nil, errors.New(errors.KindNodeFailure, "user script failed to load", err).
			WithContext("node", rc.Node.FullName())
	}

	main := L.GetGlobal("main")
	fn, ok := main.(*lua.LFunction)
	if !ok {
		rc.Logger().Warn("node.code.no_main", "node", rc.Node.FullName())
		return st, nil
	}

	L.Push(fn)
	L.Push(goToLua(L, map[string]any(st)))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, errors.New(errors.KindNodeFailure, "user script main() failed", err).
			WithContext("node", rc.Node.FullName())
	}

	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		rc.Logger().Warn("node.code.bad_return", "node", rc.Node.FullName())
		return st, nil
	}
	m, _ := luaToGo(tbl).(map[string]any)
	if m == nil {
		return st, nil
	}
	return state.State(m), nil
}

// goToLua converts a Go value into its Lua representation.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	case state.State:
		return goToLua(L, map[string]any(val))
	default:
		return lua.LString(stringify(val))
	}
}

// luaToGo converts a Lua value back. Tables with a contiguous 1..n integer
// key sequence become slices, anything else a map. Lua's {} is ambiguous
// between an empty list and an empty record; it decodes as an empty map, so
// scripts that need a preserved empty list must return a non-empty one or
// leave the key absent.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		n := val.Len()
		if n > 0 {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, luaToGo(val.RawGetInt(i)))
			}
			return list
		}
		m := map[string]any{}
		val.ForEach(func(k, item lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				m[string(ks)] = luaToGo(item)
			}
		})
		return m
	default:
		return nil
	}
}

func stringify(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
