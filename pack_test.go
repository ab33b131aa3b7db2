// pack_test.go: pack injection, shared context and cross-category wiring
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptsInjection(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "confread", `
function node_id()
    return __opts__["id"]
end
`)

	loader := newTestLoaderWith(t, LoaderOptions{
		Tag:        "opts",
		UseVirtual: true,
		Config: &Config{
			Options: map[string]any{"id": "minion-7"},
		},
	}, dir)

	fn, err := loader.Get("confread.node_id")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "minion-7", result)
}

func TestContextSharedAcrossModules(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "writer", `
function put(v)
    __context__.set("shared", v)
    return true
end
`)
	writeSource(t, dir, "reader", `
function get()
    return __context__.get("shared")
end
`)

	loader := newTestLoader(t, "ctx_share", dir)
	put, err := loader.Get("writer.put")
	require.NoError(t, err)
	_, err = put("handoff")
	require.NoError(t, err)

	get, err := loader.Get("reader.get")
	require.NoError(t, err)
	result, err := get()
	require.NoError(t, err)
	assert.Equal(t, "handoff", result,
		"the context store is shared by reference across all modules of the category")
}

func TestContextSurvivesClear(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "mod", `function f() return 1 end`)

	loader := newTestLoader(t, "ctx_clear", dir)
	pack := loader.Pack()
	pack.Context.Set("persistent", "yes")

	loader.Clear()
	assert.Same(t, pack, loader.Pack(), "pack identity is stable across Clear")
	value, ok := loader.Pack().Context.Get("persistent")
	require.True(t, ok)
	assert.Equal(t, "yes", value)
}

func TestPackExtraStaticValue(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "greet", `
function hello()
    return "hello " .. __role__
end
`)

	loader := newTestLoaderWith(t, LoaderOptions{
		Tag:        "extras_static",
		UseVirtual: true,
		PackExtras: map[string]any{"role": "worker"},
	}, dir)

	fn, err := loader.Get("greet.hello")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "hello worker", result)
}

func TestPackExtraFunction(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "caller", `
function invoke()
    return __render__("tmpl")
end
`)

	rendered := ""
	loader := newTestLoaderWith(t, LoaderOptions{
		Tag:        "extras_fn",
		UseVirtual: true,
		PackExtras: map[string]any{
			"render": Function(func(args ...any) (any, error) {
				rendered, _ = args[0].(string)
				return "rendered:" + rendered, nil
			}),
		},
	}, dir)

	fn, err := loader.Get("caller.invoke")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "rendered:tmpl", result)
	assert.Equal(t, "tmpl", rendered)
}

func TestPackExtraLoaderBridge(t *testing.T) {
	execDir := t.TempDir()
	writeSource(t, execDir, "cmd", `function run(c) return "ran " .. c end`)
	execLoader := newTestLoader(t, "exec_mods", execDir)

	grainsDir := t.TempDir()
	writeSource(t, grainsDir, "probe", `
function shell()
    return __exec__("cmd.run", "uname")
end
`)

	grains := newTestLoaderWith(t, LoaderOptions{
		Tag:        "grains_bridge",
		UseVirtual: true,
		PackExtras: map[string]any{"exec": execLoader},
	}, grainsDir)

	fn, err := grains.Get("probe.shell")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "ran uname", result,
		"a cross-category loader extra resolves through the injected bridge")
}

func TestModuleDefinitionsWinOverShortNames(t *testing.T) {
	dir := t.TempDir()
	// A plugin may define plain names that overlap pack-entry short
	// names; the injected entries live under reserved dunder names so
	// both stay reachable.
	writeSource(t, dir, "overlap", `
function opts()
    return "module-level opts"
end

function injected()
    return __opts__["id"]
end
`)

	loader := newTestLoaderWith(t, LoaderOptions{
		Tag:        "no_collision",
		UseVirtual: true,
		Config:     &Config{Options: map[string]any{"id": "xyz"}},
	}, dir)

	own, err := loader.Get("overlap.opts")
	require.NoError(t, err)
	result, err := own()
	require.NoError(t, err)
	assert.Equal(t, "module-level opts", result)

	inj, err := loader.Get("overlap.injected")
	require.NoError(t, err)
	result, err = inj()
	require.NoError(t, err)
	assert.Equal(t, "xyz", result)
}
