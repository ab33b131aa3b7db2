// entrypoints.go: third-party extension registry and isolated discovery
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"fmt"
	"sync"
)

// Extension describes a third-party package that contributes extra plugin
// directories to one or more categories.
//
// Two registration shapes are supported:
//   - Legacy: TagDirs maps a conventional "<tag>_dirs" key to a callable
//     returning directories for that single tag.
//   - Modern: ModuleDirs is a single callable returning a mapping from
//     tag to directories for every category the extension serves.
//
// An extension may carry both; the legacy shape is consulted first. The
// discovery callables run inside an isolated failure scope: a panic or
// error in one extension is logged with the extension's name and version
// and its contribution omitted, while sibling extensions still run.
type Extension struct {
	// Name identifies the extension in logs and registration.
	Name string

	// Version is free-form, used only for diagnostics.
	Version string

	// TagDirs holds legacy per-tag discovery callables keyed "<tag>_dirs".
	TagDirs map[string]func() ([]string, error)

	// ModuleDirs is the modern discovery callable covering all tags.
	ModuleDirs func() (map[string][]string, error)
}

// extensionRegistry is the process-wide set of registered extensions.
// Iteration happens fresh on every resolution call - extensions change
// between process restarts, not mid-process, so no caching is layered
// here; callers needing caching wrap the bridge themselves.
type extensionRegistry struct {
	mu         sync.RWMutex
	extensions []Extension
}

var extensions extensionRegistry

// RegisterExtension adds an extension to the process-wide registry.
// Names must be unique; re-registering an existing name is an error so a
// misconfigured double-import is caught loudly at startup.
func RegisterExtension(ext Extension) error {
	if ext.Name == "" {
		return NewInvalidLoaderOptionsError("extension name is required")
	}
	extensions.mu.Lock()
	defer extensions.mu.Unlock()
	for _, existing := range extensions.extensions {
		if existing.Name == ext.Name {
			return NewDuplicateExtensionError(ext.Name)
		}
	}
	extensions.extensions = append(extensions.extensions, ext)
	return nil
}

// UnregisterExtension removes an extension by name. Unknown names are a
// no-op.
func UnregisterExtension(name string) {
	extensions.mu.Lock()
	defer extensions.mu.Unlock()
	kept := extensions.extensions[:0]
	for _, ext := range extensions.extensions {
		if ext.Name != name {
			kept = append(kept, ext)
		}
	}
	extensions.extensions = kept
}

// resetExtensions clears the registry. Test hook.
func resetExtensions() {
	extensions.mu.Lock()
	defer extensions.mu.Unlock()
	extensions.extensions = nil
}

// discoverExtensionDirs collects the directories every registered
// extension contributes for the given tag. Each extension's discovery
// callable runs in an isolated failure scope.
func discoverExtensionDirs(tag string, logger Logger) []string {
	extensions.mu.RLock()
	snapshot := append([]Extension(nil), extensions.extensions...)
	extensions.mu.RUnlock()

	logger = ensureLogger(logger)

	var dirs []string
	for _, ext := range snapshot {
		contributed, err := invokeExtension(ext, tag)
		if err != nil {
			logger.Error("Extension discovery failed, omitting its contribution",
				"extension", ext.Name,
				"version", ext.Version,
				"tag", tag,
				"error", err)
			continue
		}
		dirs = append(dirs, contributed...)
	}
	return dirs
}

// invokeExtension runs one extension's discovery callables for a tag,
// converting panics into errors so one broken extension cannot abort the
// whole resolution.
func invokeExtension(ext Extension, tag string) (dirs []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			dirs = nil
			err = NewExtensionDiscoveryError(ext.Name, ext.Version, fmt.Errorf("panic: %v", r))
		}
	}()

	// Legacy shape first: a callable registered under "<tag>_dirs".
	if ext.TagDirs != nil {
		if fn, ok := ext.TagDirs[tag+"_dirs"]; ok && fn != nil {
			legacy, ferr := fn()
			if ferr != nil {
				return nil, NewExtensionDiscoveryError(ext.Name, ext.Version, ferr)
			}
			dirs = append(dirs, legacy...)
		}
	}

	// Modern shape: one callable covering every tag.
	if ext.ModuleDirs != nil {
		mapping, ferr := ext.ModuleDirs()
		if ferr != nil {
			return nil, NewExtensionDiscoveryError(ext.Name, ext.Version, ferr)
		}
		dirs = append(dirs, mapping[tag]...)
	}

	return dirs, nil
}
