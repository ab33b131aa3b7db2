// pack.go: dependency pack construction and namespace injection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Reserved injection names. Pack entries always live under
// double-underscore-delimited names so they can never collide with a
// plugin's own public definitions.
const (
	packOptsName    = "__opts__"
	packContextName = "__context__"
	packModsName    = "__mods__"
)

// Context is the mutable shared store of a plugin category. One Context
// is owned by each LazyLoader and shared by reference into every module
// it materializes, so a value set by one plugin is visible to all its
// siblings for the loader's lifetime.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an empty shared context store.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Get returns the value stored under key, and whether it was present.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Delete removes a key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// Keys returns every stored key, unordered.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

// Pack is the dependency-injection bag assembled per category. Its
// identity is stable for the owning loader's lifetime: Clear and
// re-materialization reuse the same Pack, so plugins observe one
// continuous context store.
type Pack struct {
	// Opts is the opaque configuration bag plugins see as __opts__.
	Opts map[string]any

	// Context is the category-scoped shared store, seen as __context__.
	Context *Context

	// Extras are caller-supplied cross references ("give grains access to
	// execution modules"). Each entry is injected under
	// "__" + name + "__". Values may be plain data, a Function, or a
	// *LazyLoader (injected as a sibling-style call bridge).
	Extras map[string]any
}

// newPack assembles the pack for a loader.
func newPack(opts map[string]any, extras map[string]any) *Pack {
	return &Pack{
		Opts:    opts,
		Context: NewContext(),
		Extras:  extras,
	}
}

// reservedName wraps a short extra name into its dunder-delimited
// injection form. Names already in dunder form pass through.
func reservedName(name string) string {
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return name
	}
	return "__" + name + "__"
}

// injectPack seeds a fresh module state with the pack under the reserved
// names, plus the sibling call bridge for the owning loader. Injection
// happens before the plugin source runs, so the plugin body can reference
// pack entries as ambient globals.
func injectPack(L *lua.LState, pack *Pack, owner *LazyLoader) {
	L.SetGlobal(packOptsName, goToLua(L, pack.Opts))
	L.SetGlobal(packContextName, contextBridge(L, pack.Context))
	if owner != nil {
		L.SetGlobal(packModsName, loaderBridge(L, owner))
	}

	for name, value := range pack.Extras {
		L.SetGlobal(reservedName(name), extraBridge(L, value))
	}
}

// contextBridge exposes the shared context store to Lua as a table of
// accessor functions. The store itself stays in Go so every module state
// of the category reads and writes the same backing map.
func contextBridge(L *lua.LState, ctx *Context) lua.LValue {
	table := L.NewTable()
	table.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if v, ok := ctx.Get(key); ok {
			L.Push(goToLua(L, v))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))
	table.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		ctx.Set(key, luaToGo(L.Get(2)))
		return 0
	}))
	table.RawSetString("delete", L.NewFunction(func(L *lua.LState) int {
		ctx.Delete(L.CheckString(1))
		return 0
	}))
	table.RawSetString("keys", L.NewFunction(func(L *lua.LState) int {
		keys := ctx.Keys()
		out := L.NewTable()
		for i, k := range keys {
			out.RawSetInt(i+1, lua.LString(k))
		}
		L.Push(out)
		return 1
	}))
	return table
}

// loaderBridge exposes a loader to Lua as a single callable:
// __mods__("module.function", args...). This is the narrow Call interface
// that replaces ambient sibling globals; lookups go through the loader so
// lazy materialization and staleness handling still apply.
func loaderBridge(L *lua.LState, loader *LazyLoader) lua.LValue {
	return L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		var args []any
		for i := 2; i <= L.GetTop(); i++ {
			args = append(args, luaToGo(L.Get(i)))
		}
		fn, err := loader.Get(key)
		if err != nil {
			L.RaiseError("no such callable %q: %s", key, err.Error())
			return 0
		}
		result, err := fn(args...)
		if err != nil {
			L.RaiseError("call %q failed: %s", key, err.Error())
			return 0
		}
		L.Push(goToLua(L, result))
		return 1
	})
}

// extraBridge converts a pack extra to its injected Lua form.
func extraBridge(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case *LazyLoader:
		return loaderBridge(L, v)
	case Function:
		return L.NewFunction(func(L *lua.LState) int {
			var args []any
			for i := 1; i <= L.GetTop(); i++ {
				args = append(args, luaToGo(L.Get(i)))
			}
			result, err := v(args...)
			if err != nil {
				L.RaiseError("injected callable failed: %s", err.Error())
				return 0
			}
			L.Push(goToLua(L, result))
			return 1
		})
	default:
		return goToLua(L, value)
	}
}
