// virtual_test.go: virtual visibility protocol and publication controls
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

func TestDecodeVirtualResult(t *testing.T) {
	tests := []struct {
		name    string
		results []any
		want    VirtualResult
	}{
		{"rename", []any{"zfs"}, VirtualResult{Kind: VirtualAcceptAs, Name: "zfs"}},
		{"accept as-is", []any{true}, VirtualResult{Kind: VirtualAcceptAsIs}},
		{"plain reject", []any{false}, VirtualResult{Kind: VirtualReject}},
		{"reject with reason", []any{false, "no zpool binary"}, VirtualResult{Kind: VirtualReject, Reason: "no zpool binary"}},
		{"empty name rejects", []any{""}, VirtualResult{Kind: VirtualReject, Reason: "virtual predicate returned empty name"}},
		{"nothing rejects", nil, VirtualResult{Kind: VirtualReject, Reason: "virtual predicate returned nothing"}},
		{"garbage rejects", []any{int64(7)}, VirtualResult{Kind: VirtualReject, Reason: "virtual predicate returned unsupported int64"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeVirtualResult(tt.results))
		})
	}
}

func TestVirtualRename(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "netscaler", `
function __virtual__()
    return "network"
end

function status() return "up" end
`)

	loader := newTestLoader(t, "rename", dir)
	assert.True(t, loader.Contains("network.status"))
	assert.False(t, loader.Contains("netscaler.status"),
		"a renamed module is not reachable under its filename identifier")
}

func TestVirtualNameDeclaration(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "impl_linux", `
__virtualname__ = "impl"

function __virtual__()
    return true
end

function f() return "linux" end
`)

	loader := newTestLoader(t, "virtualname", dir)
	assert.True(t, loader.Contains("impl.f"), "true from the predicate honors __virtualname__")
	assert.False(t, loader.Contains("impl_linux.f"))
}

func TestVirtualRejectReasonRecorded(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "zpool", `
function __virtual__()
    return false, "zfs kernel module absent"
end
`)

	logger := NewTestLogger()
	loader := newTestLoaderWith(t, LoaderOptions{Tag: "reject_reason", UseVirtual: true, Logger: logger}, dir)

	assert.False(t, loader.Contains("zpool"))
	assert.Equal(t, "zfs kernel module absent", loader.MissingModules()["zpool"])
	assert.Zero(t, logger.CountByLevel("error"), "opting out is not an error")
}

func TestVirtualPredicateErrorLogsAndSkips(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "broken", `
function __virtual__()
    error("probe exploded")
end

function f() return 1 end
`)
	writeSource(t, dir, "fine", `function f() return 2 end`)

	logger := NewTestLogger()
	loader := newTestLoaderWith(t, LoaderOptions{Tag: "pred_error", UseVirtual: true, Logger: logger}, dir)

	loader.LoadAll()
	assert.False(t, loader.Contains("broken"))
	assert.True(t, loader.Contains("fine.f"), "a raising predicate must not abort sibling loading")
	assert.GreaterOrEqual(t, logger.CountByLevel("error"), 1)
}

func TestVirtualDisabledSkipsPredicate(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "gated", `
function __virtual__()
    return false
end

function f() return "loaded anyway" end
`)

	loader := newTestLoaderWith(t, LoaderOptions{Tag: "no_virtual", UseVirtual: false}, dir)
	fn, err := loader.Get("gated.f")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "loaded anyway", result)
}

func TestVirtualAliasEquivalence(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "primary", `
__virtual_aliases__ = {"alias_a", "alias_b"}

counter = 0

function bump()
    counter = counter + 1
    return counter
end
`)

	loader := newTestLoader(t, "aliases", dir)

	for i, name := range []string{"primary", "alias_a", "alias_b"} {
		fn, err := loader.Get(name + ".bump")
		require.NoError(t, err)
		result, err := fn()
		require.NoError(t, err)
		assert.EqualValues(t, i+1, result,
			"all aliases must be backed by the identical callable and namespace")
	}

	first, err := loader.GetModule("alias_a")
	require.NoError(t, err)
	second, err := loader.GetModule("primary")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadListRestrictsPublication(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "partial", `
__load__ = {"visible"}

executed = false

function visible() return "shown" end
function concealed() return "hidden" end
`)

	loader := newTestLoader(t, "load_list", dir)
	assert.True(t, loader.Contains("partial.visible"))
	assert.False(t, loader.Contains("partial.concealed"),
		"names outside the load list are invisible even though they executed")
}

func TestFuncAliasRenamesCallable(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "shadowing", `
__func_alias__ = { list_ = "list" }

function list_()
    return "listed"
end
`)

	loader := newTestLoader(t, "func_alias", dir)
	fn, err := loader.Get("shadowing.list")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "listed", result)
	assert.False(t, loader.Contains("shadowing.list_"))
}

func TestDependsExcludesOnlyAffectedCallable(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "nettools", `
__deps__ = {
    trace = {"definitely-no-such-binary-xyz"},
}

function trace() return "traced" end
function ping() return "pong" end
`)

	loader := newTestLoader(t, "depends", dir)
	assert.False(t, loader.Contains("nettools.trace"))
	assert.True(t, loader.Contains("nettools.ping"),
		"an unmet dependency excludes the callable, not the module")
}

func TestDependsFallbackKeepsOriginalName(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "routes", `
__load__ = {"route"}
__deps__ = {
    route = { bins = {"definitely-no-such-binary-xyz"}, fallback = "_route_stub" },
}

function route() return "real" end

function _route_stub() return "stub" end
`)

	loader := newTestLoader(t, "fallback", dir)
	fn, err := loader.Get("routes.route")
	require.NoError(t, err, "a load-listed, dependency-failed callable still publishes under its original name")
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "stub", result)
}

func TestDependsSatisfiedBinary(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "shelly", `
__deps__ = {
    run = { bins = {"sh"} },
}

function run() return "ran" end
`)

	loader := newTestLoader(t, "deps_ok", dir)
	assert.True(t, loader.Contains("shelly.run"))
}

func TestDependsOnSiblingModule(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "base", `function f() return 1 end`)
	writeSource(t, dir, "dependent", `
__deps__ = {
    uses_base    = { mods = {"base"} },
    uses_missing = { mods = {"no_such_sibling"} },
}

function uses_base() return 1 end
function uses_missing() return 2 end
`)

	loader := newTestLoader(t, "mod_deps", dir)
	assert.True(t, loader.Contains("dependent.uses_base"))
	assert.False(t, loader.Contains("dependent.uses_missing"))
}

func TestPrivateFunctionsNeverPublish(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "internal", `
function _helper() return "secret" end
function public() return _helper() end
`)

	loader := newTestLoader(t, "private", dir)
	assert.False(t, loader.Contains("internal._helper"))

	fn, err := loader.Get("internal.public")
	require.NoError(t, err)
	result, err := fn()
	require.NoError(t, err)
	assert.Equal(t, "secret", result)
}

func TestManifestAliasesPublish(t *testing.T) {
	dir := t.TempDir()
	writePackageSource(t, dir, "composite", `function f() return "pkg" end`, `
name: composite
version: 1.0.0
aliases:
  - combined
`)

	loader := newTestLoader(t, "manifest_alias", dir)
	assert.True(t, loader.Contains("composite.f"))
	assert.True(t, loader.Contains("combined.f"))
}
