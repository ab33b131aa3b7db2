// runtime.go: sandboxed Lua execution runtime for plugin sources
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Function is a published plugin callable. Arguments and the return value
// cross the Lua boundary through the value bridge below: booleans,
// strings, numbers, nil, []any and map[string]any round-trip; anything
// else arrives in Lua as nil.
type Function func(args ...any) (any, error)

// newModuleState creates the fresh namespace a plugin source executes in.
// Each materialized module owns exactly one state; states are never
// shared between modules, which is what makes per-module teardown and
// re-materialization safe.
func newModuleState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        false,
		IncludeGoStackTrace: false,
	})
	sandboxState(L)
	return L
}

// sandboxState removes the escape hatches that would let a plugin pull in
// arbitrary code outside the loader's control. Plugins are trusted to
// compute, not to load.
func sandboxState(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}
}

// runSource compiles and executes a plugin source file in the given
// state. Lua runtime errors and Go panics both surface as errors so one
// broken plugin can never take down the load of its siblings.
func runSource(L *lua.LState, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during plugin execution: %v", r)
		}
	}()

	fn, err := L.LoadFile(path)
	if err != nil {
		return err
	}
	L.Push(fn)
	return L.PCall(0, lua.MultRet, nil)
}

// callLuaFunction invokes a Lua function with bridged arguments and
// returns its first result, protecting against both Lua errors and Go
// panics.
func callLuaFunction(L *lua.LState, fn *lua.LFunction, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic during plugin call: %v", r)
		}
	}()

	lvArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		lvArgs[i] = goToLua(L, arg)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lvArgs...); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return luaToGo(ret), nil
}

// callLuaFunctionMulti invokes a Lua function and returns every result.
// Used for the virtual predicate, whose rejection shape is the pair
// (false, reason).
func callLuaFunctionMulti(L *lua.LState, fn *lua.LFunction) (results []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("panic during virtual predicate: %v", r)
		}
	}()

	base := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}); err != nil {
		return nil, err
	}
	top := L.GetTop()
	for i := base + 1; i <= top; i++ {
		results = append(results, luaToGo(L.Get(i)))
	}
	L.SetTop(base)
	return results, nil
}

// goToLua converts a Go value to its Lua representation.
func goToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, goToLua(L, item))
		}
		return table
	case []string:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, lua.LString(item))
		}
		return table
	case map[string]any:
		table := L.NewTable()
		for key, item := range v {
			table.RawSetString(key, goToLua(L, item))
		}
		return table
	case lua.LValue:
		return v
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value to its Go representation. Tables with
// contiguous 1..n integer keys become []any, everything else becomes
// map[string]any. Cycles are broken with nil.
func luaToGo(value lua.LValue) any {
	return luaToGoVisited(value, make(map[*lua.LTable]bool))
}

func luaToGoVisited(value lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN := 0
	count := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = luaToGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		switch kv := k.(type) {
		case lua.LString:
			m[string(kv)] = luaToGoVisited(v, visited)
		case lua.LNumber:
			m[kv.String()] = luaToGoVisited(v, visited)
		}
	})
	return m
}

// luaStringSlice extracts a []string from a Lua global that is expected
// to be an array table of strings. Non-string entries are dropped.
func luaStringSlice(value lua.LValue) []string {
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	table.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			out = append(out, string(s))
		}
	})
	return out
}

// luaStringMap extracts a map[string]string from a Lua global expected to
// be a table of string keys to string values.
func luaStringMap(value lua.LValue) map[string]string {
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	table.ForEach(func(k, v lua.LValue) {
		ks, kok := k.(lua.LString)
		vs, vok := v.(lua.LString)
		if kok && vok {
			out[string(ks)] = string(vs)
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}
