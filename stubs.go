// stubs.go: refcounted process-wide namespace registry with shared stubs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"sync"
)

// baseStubIdent is the per-tag shared stub entry every loader of a tag
// retains at construction. It guarantees the tag's registry slot outlives
// any single loader's teardown while at least one loader is alive.
const baseStubIdent = "__base__"

// namespaceEntry is one registered namespace: the published callables of
// a loaded module (or an empty stub) plus a reference count. The physical
// entry is deleted only when the count reaches zero - a loader tearing
// down releases its own references and never force-deletes an entry a
// sibling loader still holds.
type namespaceEntry struct {
	refs  int
	funcs map[string]Function
}

// namespaceRegistry is the process-wide table used to resolve intra-plugin
// references across loader instances of the same tag. Keys are
// "tag/identifier". Access is serialized internally because multiple
// loader instances may insert and release concurrently even when each
// individual loader is driven single-threaded.
type namespaceRegistry struct {
	mu      sync.Mutex
	entries map[string]*namespaceEntry
}

var namespaces = namespaceRegistry{entries: make(map[string]*namespaceEntry)}

func namespaceKey(tag, ident string) string {
	return tag + "/" + ident
}

// retain increments the reference count for tag/ident, creating a stub
// entry when absent, and merges any provided callables into it. Returns
// nothing; release must be called exactly once per retain.
func (r *namespaceRegistry) retain(tag, ident string, funcs map[string]Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := namespaceKey(tag, ident)
	entry, ok := r.entries[key]
	if !ok {
		entry = &namespaceEntry{funcs: make(map[string]Function)}
		r.entries[key] = entry
	}
	entry.refs++
	for name, fn := range funcs {
		entry.funcs[name] = fn
	}
}

// release decrements the reference count for tag/ident and deletes the
// physical entry when no loader references it anymore. Releasing an
// unknown key is a no-op so teardown stays idempotent.
func (r *namespaceRegistry) release(tag, ident string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := namespaceKey(tag, ident)
	entry, ok := r.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.entries, key)
	}
}

// resolve returns the registered callable for tag, module identifier and
// function name, if any loader of the tag currently publishes it.
func (r *namespaceRegistry) resolve(tag, ident, function string) (Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[namespaceKey(tag, ident)]
	if !ok {
		return nil, false
	}
	fn, ok := entry.funcs[function]
	return fn, ok
}

// registered reports whether tag/ident currently has a live entry.
func (r *namespaceRegistry) registered(tag, ident string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[namespaceKey(tag, ident)]
	return ok
}

// ResolveNamespace looks up a published callable in the process-wide
// namespace registry, independent of any particular loader instance.
// This is the resolution path for cross-loader intra-plugin references.
func ResolveNamespace(tag, ident, function string) (Function, error) {
	if fn, ok := namespaces.resolve(tag, ident, function); ok {
		return fn, nil
	}
	return nil, NewFunctionNotFoundError(tag+"/"+ident, function)
}
