// scanner.go: directory scanning and identifier-to-source file mapping
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source file conventions for Lua-sourced plugins.
const (
	// sourceExtension is the only extension scanned for plugin sources.
	sourceExtension = ".lua"

	// packageEntryFile marks a directory as a package-style plugin.
	packageEntryFile = "init.lua"

	// packageManifestFile optionally describes a package-style plugin.
	packageManifestFile = "plugin.yaml"
)

// PluginManifest is the optional metadata file a package-style plugin may
// carry alongside its entry file. It is purely descriptive except for
// Aliases, which contribute extra published identifiers exactly like the
// module-level virtual alias declaration.
type PluginManifest struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// candidate is one loadable source location for an identifier.
type candidate struct {
	// path is the absolute source file to execute (the entry file for
	// package-style candidates).
	path string

	// dir is the search directory the candidate came from.
	dir string

	// isPackage marks a directory-with-entry-file candidate. Package
	// candidates always beat flat-file candidates of the same identifier
	// within the same directory.
	isPackage bool

	// manifest is the parsed plugin.yaml for package candidates, if any.
	manifest *PluginManifest
}

// FileMapping maps plugin identifier to its winning source candidate.
//
// Identifiers are unique: when two search directories provide the same
// identifier, the earlier (higher priority) directory wins and the loser
// is recorded as superseded for diagnostics only - superseded candidates
// are never materialized.
type FileMapping struct {
	entries    map[string]candidate
	superseded map[string][]string
}

// newFileMapping returns an empty mapping.
func newFileMapping() *FileMapping {
	return &FileMapping{
		entries:    make(map[string]candidate),
		superseded: make(map[string][]string),
	}
}

// Len returns the number of loadable identifiers.
func (fm *FileMapping) Len() int {
	return len(fm.entries)
}

// Identifiers returns every loadable identifier, unordered.
func (fm *FileMapping) Identifiers() []string {
	idents := make([]string, 0, len(fm.entries))
	for ident := range fm.entries {
		idents = append(idents, ident)
	}
	return idents
}

// Superseded returns identifier -> lower-priority source paths that lost
// the priority race. Diagnostics only.
func (fm *FileMapping) Superseded() map[string][]string {
	out := make(map[string][]string, len(fm.superseded))
	for ident, paths := range fm.superseded {
		out[ident] = append([]string(nil), paths...)
	}
	return out
}

// add records a candidate, honoring priority shadowing. Within a single
// directory a package candidate replaces a flat-file one for the same
// identifier; across directories the first-seen candidate always wins.
func (fm *FileMapping) add(ident string, cand candidate) {
	existing, present := fm.entries[ident]
	if !present {
		fm.entries[ident] = cand
		return
	}
	if existing.dir == cand.dir && cand.isPackage && !existing.isPackage {
		// Same directory, package form outranks the flat file.
		fm.superseded[ident] = append(fm.superseded[ident], existing.path)
		fm.entries[ident] = cand
		return
	}
	fm.superseded[ident] = append(fm.superseded[ident], cand.path)
}

// scanDirectories walks the resolved directories in priority order and
// builds the file mapping. Unreadable directories are logged and skipped;
// the scan never aborts. Whitelist and blacklist filtering is applied
// before returning.
func scanDirectories(dirs []string, whitelist, blacklist []string, logger Logger) *FileMapping {
	logger = ensureLogger(logger)
	mapping := newFileMapping()

	for _, dir := range dirs {
		scanDirectory(mapping, dir, logger)
	}

	applyWhitelist(mapping, whitelist)
	applyBlacklist(mapping, blacklist)
	return mapping
}

// scanDirectory scans one directory: flat source files at the top level
// and package-style plugins one level down.
func scanDirectory(mapping *FileMapping, dir string, logger Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Plugin directory absent, skipping", "directory", dir)
			return
		}
		logger.Warn("Plugin directory unreadable, skipping",
			"directory", dir, "error", NewDirectoryUnreadableError(dir, err))
		return
	}

	for _, entry := range entries {
		name := entry.Name()

		isDir := entry.IsDir()
		if !isDir && entry.Type()&os.ModeSymlink != 0 {
			// ReadDir reports the link itself; a symlinked package
			// directory counts, so resolve the target.
			if info, serr := os.Stat(filepath.Join(dir, name)); serr == nil && info.IsDir() {
				isDir = true
			}
		}

		if isDir {
			entryFile := filepath.Join(dir, name, packageEntryFile)
			if info, statErr := os.Stat(entryFile); statErr != nil || info.IsDir() {
				continue
			}
			if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
				continue
			}
			mapping.add(name, candidate{
				path:      entryFile,
				dir:       dir,
				isPackage: true,
				manifest:  readManifest(filepath.Join(dir, name, packageManifestFile), logger),
			})
			continue
		}

		if !strings.HasSuffix(name, sourceExtension) {
			continue
		}
		// Private files are skipped; the package entry file is handled
		// through its directory above.
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		ident := strings.TrimSuffix(name, sourceExtension)
		if ident == "" {
			continue
		}
		mapping.add(ident, candidate{
			path: filepath.Join(dir, name),
			dir:  dir,
		})
	}
}

// readManifest parses an optional plugin.yaml. A missing file is normal;
// a malformed one is logged at warn and treated as absent.
func readManifest(path string, logger Logger) *PluginManifest {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var manifest PluginManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		logger.Warn("Plugin manifest unparseable, ignoring",
			"manifest", path, "error", NewManifestParseError(path, err))
		return nil
	}
	return &manifest
}

// applyWhitelist retains only identifiers that appear in the whitelist or
// whose dotted top-level prefix does. An empty whitelist retains all.
func applyWhitelist(mapping *FileMapping, whitelist []string) {
	if len(whitelist) == 0 {
		return
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		allowed[w] = struct{}{}
	}
	for ident := range mapping.entries {
		if _, ok := allowed[ident]; ok {
			continue
		}
		if prefix, _, found := strings.Cut(ident, "."); found {
			if _, ok := allowed[prefix]; ok {
				continue
			}
		}
		delete(mapping.entries, ident)
	}
}

// applyBlacklist drops identifiers explicitly excluded.
func applyBlacklist(mapping *FileMapping, blacklist []string) {
	for _, b := range blacklist {
		delete(mapping.entries, b)
	}
}
