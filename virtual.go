// virtual.go: plugin materialization and the virtual visibility protocol
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agilira/go-timecache"
	lua "github.com/yuin/gopher-lua"
)

// Module-level declaration names a plugin source may define.
const (
	virtualPredicateName = "__virtual__"
	virtualNameDecl      = "__virtualname__"
	virtualAliasesDecl   = "__virtual_aliases__"
	loadListDecl         = "__load__"
	funcAliasDecl        = "__func_alias__"
	dependsDecl          = "__deps__"
)

// VirtualKind tags the outcome of a virtual predicate.
type VirtualKind int

const (
	// VirtualAcceptAsIs loads the module under its filename-derived
	// identifier (or its declared __virtualname__ when present).
	VirtualAcceptAsIs VirtualKind = iota

	// VirtualAcceptAs loads the module under the name the predicate
	// returned.
	VirtualAcceptAs

	// VirtualReject skips the module, optionally with a reason recorded
	// for diagnostics. Never an error.
	VirtualReject
)

// VirtualResult is the decoded return of a virtual predicate. Modeling
// the overloaded string/bool/pair return as a tagged value keeps the
// decision channel unambiguous for callers and tests.
type VirtualResult struct {
	Kind   VirtualKind
	Name   string
	Reason string
}

// decodeVirtualResult maps the raw predicate return values onto a
// VirtualResult. Accepted shapes:
//
//	"newname"          -> accept, renamed
//	true               -> accept as-is
//	false              -> reject
//	false, "reason"    -> reject with recorded reason
//
// Anything else rejects with a descriptive reason; a predicate that
// returns garbage is indistinguishable from one that opted out.
func decodeVirtualResult(results []any) VirtualResult {
	if len(results) == 0 {
		return VirtualResult{Kind: VirtualReject, Reason: "virtual predicate returned nothing"}
	}
	switch v := results[0].(type) {
	case string:
		if v != "" {
			return VirtualResult{Kind: VirtualAcceptAs, Name: v}
		}
		return VirtualResult{Kind: VirtualReject, Reason: "virtual predicate returned empty name"}
	case bool:
		if v {
			return VirtualResult{Kind: VirtualAcceptAsIs}
		}
		reason := ""
		if len(results) > 1 {
			if s, ok := results[1].(string); ok {
				reason = s
			}
		}
		return VirtualResult{Kind: VirtualReject, Reason: reason}
	default:
		return VirtualResult{Kind: VirtualReject,
			Reason: fmt.Sprintf("virtual predicate returned unsupported %T", results[0])}
	}
}

// dependsSpec is a per-callable dependency declaration decoded from the
// module's __deps__ table.
type dependsSpec struct {
	bins     []string
	mods     []string
	fallback string
}

// LoadedModule is a materialized plugin: its executed namespace, the
// published identity it chose, and the callables it exports. A module
// owns its Lua state; calls follow the owning loader's single-goroutine
// contract (Lua states are not safe for concurrent use), which keeps
// sibling-bridge re-entry a plain nested call - a callable may call back
// into its own module mid-call.
type LoadedModule struct {
	// Ident is the filename-derived identifier.
	Ident string

	// VirtualName is the published identifier, possibly renamed by the
	// virtual protocol.
	VirtualName string

	// Aliases are extra published identifiers backed by the same
	// callables.
	Aliases []string

	// Path is the absolute source location.
	Path string

	// Tag is the owning category's publication tag.
	Tag string

	state    *lua.LState
	funcs    map[string]Function
	loadedAt time.Time
	closed   bool
}

// Functions returns the published callable names, unordered.
func (m *LoadedModule) Functions() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	return names
}

// Func returns the published callable with the given name.
func (m *LoadedModule) Func(name string) (Function, error) {
	fn, ok := m.funcs[name]
	if !ok {
		return nil, NewFunctionNotFoundError(m.VirtualName, name)
	}
	return fn, nil
}

// LoadedAt reports when the module's source was executed.
func (m *LoadedModule) LoadedAt() time.Time {
	return m.loadedAt
}

// close tears down the module's namespace. Published Function values
// captured by callers fail with a module-closed error afterwards.
func (m *LoadedModule) close() {
	if m.closed {
		return
	}
	m.closed = true
	m.state.Close()
}

// publishedNames returns the virtual name plus all aliases.
func (m *LoadedModule) publishedNames() []string {
	return append([]string{m.VirtualName}, m.Aliases...)
}

// materializeFailure records why a candidate did not become a module.
// Virtual rejections are expected and carry no error; execution and
// predicate failures carry the underlying error for error-level logging.
type materializeFailure struct {
	reason string
	err    error
}

// materializeModule executes a candidate source in a fresh namespace with
// the pack injected, runs the virtual protocol, and harvests the
// published callables. All failure paths return a materializeFailure;
// nothing propagates, so sibling loading is never affected.
func materializeModule(ident string, cand candidate, pack *Pack, owner *LazyLoader, useVirtual bool) (*LoadedModule, *materializeFailure) {
	L := newModuleState()
	injectPack(L, pack, owner)

	if err := runSource(L, cand.path); err != nil {
		L.Close()
		return nil, &materializeFailure{
			reason: "execution failed: " + err.Error(),
			err:    NewModuleExecutionError(ident, cand.path, err),
		}
	}

	virtualName := ident
	if useVirtual {
		result, failure := runVirtualProtocol(L, ident)
		if failure != nil {
			L.Close()
			return nil, failure
		}
		switch result.Kind {
		case VirtualAcceptAs:
			virtualName = result.Name
		case VirtualAcceptAsIs:
			if declared, ok := L.GetGlobal(virtualNameDecl).(lua.LString); ok && declared != "" {
				virtualName = string(declared)
			}
		case VirtualReject:
			L.Close()
			reason := result.Reason
			if reason == "" {
				reason = "virtual predicate returned false"
			}
			return nil, &materializeFailure{reason: reason}
		}
	}

	module := &LoadedModule{
		Ident:       ident,
		VirtualName: virtualName,
		Path:        cand.path,
		Tag:         tagOf(owner),
		state:       L,
		loadedAt:    timecache.CachedTime(),
	}
	module.funcs = harvestFunctions(L, module, owner)
	module.Aliases = collectAliases(L, cand, virtualName)
	return module, nil
}

func tagOf(owner *LazyLoader) string {
	if owner == nil {
		return ""
	}
	return owner.Tag()
}

// runVirtualProtocol invokes the module's predicate if present. A missing
// predicate accepts as-is (honoring __virtualname__); a predicate error
// is a load failure, not a rejection.
func runVirtualProtocol(L *lua.LState, ident string) (VirtualResult, *materializeFailure) {
	predicate, ok := L.GetGlobal(virtualPredicateName).(*lua.LFunction)
	if !ok {
		return VirtualResult{Kind: VirtualAcceptAsIs}, nil
	}
	results, err := callLuaFunctionMulti(L, predicate)
	if err != nil {
		return VirtualResult{}, &materializeFailure{
			reason: "virtual predicate raised: " + err.Error(),
			err:    NewVirtualPredicateError(ident, err),
		}
	}
	return decodeVirtualResult(results), nil
}

// harvestFunctions collects the module's published callables:
//
//  1. every module-defined (non-Go) global function without a leading
//     underscore is a publication candidate
//  2. per-callable __deps__ are checked; a callable with unmet
//     dependencies is rebound to its declared fallback or dropped
//  3. the __load__ list, when declared, restricts publications to the
//     listed (pre-alias) names
//  4. __func_alias__ renames individual publications
//
// Dependency rebinding happens before the load-list filter, so a listed
// name whose implementation fell back still publishes under its original
// name.
func harvestFunctions(L *lua.LState, module *LoadedModule, owner *LazyLoader) map[string]Function {
	defined := make(map[string]*lua.LFunction)
	private := make(map[string]*lua.LFunction)
	L.G.Global.ForEach(func(k, v lua.LValue) {
		name, nameOK := k.(lua.LString)
		fn, fnOK := v.(*lua.LFunction)
		if !nameOK || !fnOK || fn.IsG {
			return
		}
		if strings.HasPrefix(string(name), "_") {
			if !strings.HasPrefix(string(name), "__") {
				private[string(name)] = fn
			}
			return
		}
		defined[string(name)] = fn
	})

	// The virtual predicate is never a publication even when a module
	// defines it without the reserved name. Reserved names are already
	// excluded by the underscore rule.

	applyDepends(L, module, owner, defined, private)

	if loadList := luaStringSlice(L.GetGlobal(loadListDecl)); loadList != nil {
		listed := make(map[string]struct{}, len(loadList))
		for _, name := range loadList {
			listed[name] = struct{}{}
		}
		for name := range defined {
			if _, ok := listed[name]; !ok {
				delete(defined, name)
			}
		}
	}

	aliases := luaStringMap(L.GetGlobal(funcAliasDecl))

	funcs := make(map[string]Function, len(defined))
	for name, fn := range defined {
		published := name
		if alias, ok := aliases[name]; ok && alias != "" {
			published = alias
		}
		funcs[published] = module.wrap(fn)
	}
	return funcs
}

// applyDepends enforces per-callable dependency declarations. A callable
// whose binaries or sibling modules are unavailable is rebound to its
// declared fallback (which may be a private function); with no usable
// fallback it is dropped from the publication set. The rest of the module
// is unaffected.
func applyDepends(L *lua.LState, module *LoadedModule, owner *LazyLoader, defined, private map[string]*lua.LFunction) {
	specs := decodeDepends(L.GetGlobal(dependsDecl))
	for name, spec := range specs {
		if _, declared := defined[name]; !declared {
			continue
		}
		missing := unmetDependencies(spec, owner)
		if len(missing) == 0 {
			continue
		}
		if spec.fallback != "" {
			if fb, ok := defined[spec.fallback]; ok {
				defined[name] = fb
				continue
			}
			if fb, ok := private[spec.fallback]; ok {
				defined[name] = fb
				continue
			}
		}
		delete(defined, name)
		if owner != nil {
			owner.logger.Debug("Callable excluded, unmet dependencies",
				"module", module.Ident, "function", name, "missing", missing)
		}
	}
}

// decodeDepends parses the __deps__ declaration. Two shapes per entry:
//
//	__deps__ = {
//	    ping  = {"ping6", "ping"},                      -- binaries shorthand
//	    route = {bins = {"ip"}, fallback = "route_stub"},
//	}
func decodeDepends(value lua.LValue) map[string]dependsSpec {
	raw, ok := luaToGo(value).(map[string]any)
	if !ok {
		return nil
	}
	specs := make(map[string]dependsSpec, len(raw))
	for name, entry := range raw {
		switch e := entry.(type) {
		case []any:
			specs[name] = dependsSpec{bins: anyStrings(e)}
		case map[string]any:
			spec := dependsSpec{}
			if bins, ok := e["bins"].([]any); ok {
				spec.bins = anyStrings(bins)
			}
			if mods, ok := e["mods"].([]any); ok {
				spec.mods = anyStrings(mods)
			}
			if fb, ok := e["fallback"].(string); ok {
				spec.fallback = fb
			}
			specs[name] = spec
		}
	}
	return specs
}

func anyStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// unmetDependencies probes each declared dependency and returns the ones
// that are unavailable: binaries via PATH lookup, sibling modules via the
// owning loader's file mapping.
func unmetDependencies(spec dependsSpec, owner *LazyLoader) []string {
	var missing []string
	for _, bin := range spec.bins {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, "bin:"+bin)
		}
	}
	for _, mod := range spec.mods {
		if owner == nil || !owner.hasCandidate(mod) {
			missing = append(missing, "mod:"+mod)
		}
	}
	return missing
}

// collectAliases merges the module's __virtual_aliases__ declaration with
// manifest-declared aliases, dropping duplicates and the virtual name
// itself.
func collectAliases(L *lua.LState, cand candidate, virtualName string) []string {
	var aliases []string
	seen := map[string]struct{}{virtualName: {}}
	appendAlias := func(name string) {
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		aliases = append(aliases, name)
	}
	for _, name := range luaStringSlice(L.GetGlobal(virtualAliasesDecl)) {
		appendAlias(name)
	}
	if cand.manifest != nil {
		for _, name := range cand.manifest.Aliases {
			appendAlias(name)
		}
	}
	return aliases
}

// wrap turns a harvested Lua function into a published Function bound to
// the module's state. No lock is taken: calls follow the owning loader's
// single-goroutine contract, so a cyclic call chain through the sibling
// bridge re-enters this module as an ordinary nested call.
func (m *LoadedModule) wrap(fn *lua.LFunction) Function {
	return func(args ...any) (any, error) {
		if m.closed {
			return nil, NewModuleClosedError(m.VirtualName)
		}
		return callLuaFunction(m.state, fn, args...)
	}
}
