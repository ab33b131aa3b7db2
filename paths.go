// paths.go: search directory resolution with internal-root validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// outOfTreeMarker prefixes subdirectories of generic module roots that
// hold out-of-tree plugins for a category ("_grains", "_states", ...).
const outOfTreeMarker = "_"

// internalRootRegistry holds the process-wide allowlist of roots that
// built-in plugin directories must descend from. Registration normally
// happens once at program startup, before any loader is constructed.
type internalRootRegistry struct {
	mu    sync.RWMutex
	roots []string
}

var internalRoots internalRootRegistry

// RegisterInternalRoot adds a root directory to the process-wide allowlist
// of trusted internal plugin locations. Every loader's built-in directory
// is validated against this allowlist at construction time; a built-in
// directory outside every registered root is a fatal configuration error.
//
// The root is cleaned but deliberately not required to exist yet: packaging
// layouts often register roots before the payload is unpacked.
func RegisterInternalRoot(root string) {
	cleaned := filepath.Clean(root)
	internalRoots.mu.Lock()
	defer internalRoots.mu.Unlock()
	for _, existing := range internalRoots.roots {
		if existing == cleaned {
			return
		}
	}
	internalRoots.roots = append(internalRoots.roots, cleaned)
}

// resetInternalRoots clears the allowlist. Test hook.
func resetInternalRoots() {
	internalRoots.mu.Lock()
	defer internalRoots.mu.Unlock()
	internalRoots.roots = nil
}

// registeredInternalRoots returns a snapshot of the allowlist.
func registeredInternalRoots() []string {
	internalRoots.mu.RLock()
	defer internalRoots.mu.RUnlock()
	return append([]string(nil), internalRoots.roots...)
}

// validateInternalDir checks that dir descends from a registered root.
func validateInternalDir(dir string) error {
	cleaned := filepath.Clean(dir)
	roots := registeredInternalRoots()
	for _, root := range roots {
		if cleaned == root || strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return nil
		}
	}
	return NewInternalPathViolationError(cleaned, roots)
}

// resolvePaths produces the ordered search directory list for a category.
//
// Order, highest priority first:
//  1. per-tag subdirectories of the generic module roots, in
//     reverse-declared order (later-declared roots shadow earlier ones)
//  2. directories contributed by registered extensions, plus the
//     "<tag>" subdirectory of the extension modules root
//  3. the category's dedicated configured directories ("<tag>_dirs")
//  4. the built-in internal directory
//
// The built-in directory must descend from a registered internal root;
// violation is the one fatal error in this subsystem. Everything else is
// best-effort: directories that do not exist are simply skipped at scan
// time.
func resolvePaths(tag, internalDir string, cfg *Config, logger Logger) ([]string, error) {
	if internalDir != "" {
		if err := validateInternalDir(internalDir); err != nil {
			return nil, err
		}
	}

	var dirs []string

	// Generic module roots, reverse-declared order.
	if cfg != nil {
		for i := len(cfg.ModuleDirs) - 1; i >= 0; i-- {
			root := cfg.ModuleDirs[i]
			for _, sub := range []string{tag, outOfTreeMarker + tag} {
				candidate := filepath.Join(root, sub)
				if info, err := os.Stat(candidate); err == nil && info.IsDir() {
					dirs = append(dirs, candidate)
				}
			}
		}
	}

	// Extension-contributed directories.
	dirs = append(dirs, discoverExtensionDirs(tag, logger)...)
	if cfg != nil && cfg.ExtensionModulesDir != "" {
		candidate := filepath.Join(cfg.ExtensionModulesDir, tag)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dirs = append(dirs, candidate)
		}
	}

	// Dedicated configured directories for the tag.
	dirs = append(dirs, cfg.tagDirs(tag)...)

	// Built-in directory last so everything above shadows it.
	if internalDir != "" {
		dirs = append(dirs, internalDir)
	}

	return dedupeDirs(dirs), nil
}

// dedupeDirs drops later duplicates, preserving first-seen order so the
// priority of the earliest occurrence wins.
func dedupeDirs(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	out := dirs[:0]
	for _, d := range dirs {
		cleaned := filepath.Clean(d)
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}
