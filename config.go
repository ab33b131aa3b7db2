// config.go: parsed loader configuration consumed by LazyLoader
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

// Config carries the already-parsed configuration the loader consumes.
//
// The loader never reads configuration files itself; the host daemon
// parses whatever format it prefers and hands over this struct. All
// fields are optional - a zero Config yields a loader that only sees the
// category's built-in directory.
//
// Directory conventions:
//   - ModuleDirs entries are generic roots: each is searched for a
//     subdirectory named exactly after the category tag, or prefixed with
//     the out-of-tree marker ("_<tag>"). Later-declared entries win over
//     earlier ones so command-line-specified directories can shadow
//     config-file ones.
//   - TagDirs maps a tag to its dedicated extra directories (the
//     "<tag>_dirs" convention).
//   - ExtensionModulesDir is a root for synced third-party modules and is
//     searched for a "<tag>" subdirectory.
type Config struct {
	// ExtensionModulesDir is the root path for synced extension modules.
	ExtensionModulesDir string `json:"extension_modules_dir" yaml:"extension_modules_dir"`

	// ModuleDirs lists generic plugin roots scanned for per-tag
	// subdirectories. Highest priority, reverse-declared order.
	ModuleDirs []string `json:"module_dirs" yaml:"module_dirs"`

	// TagDirs maps category tag to dedicated extra directories.
	TagDirs map[string][]string `json:"tag_dirs" yaml:"tag_dirs"`

	// WhitelistModules, when non-empty, restricts scanning to the listed
	// identifiers (or identifiers whose dotted top-level prefix is listed).
	WhitelistModules []string `json:"whitelist_modules" yaml:"whitelist_modules"`

	// BlacklistModules excludes the listed identifiers from scanning.
	BlacklistModules []string `json:"blacklist_modules" yaml:"blacklist_modules"`

	// CacheDir is where snapshot caches (grains-style categories) live.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Options is the opaque option bag exposed to plugins as __opts__.
	// The loader never interprets its contents.
	Options map[string]any `json:"options" yaml:"options"`
}

// tagDirs returns the dedicated extra directories for a tag, nil-safe.
func (c *Config) tagDirs(tag string) []string {
	if c == nil || c.TagDirs == nil {
		return nil
	}
	return c.TagDirs[tag]
}

// options returns the opaque option bag, nil-safe.
func (c *Config) options() map[string]any {
	if c == nil {
		return nil
	}
	return c.Options
}

// whitelist returns the configured module whitelist, nil-safe.
func (c *Config) whitelist() []string {
	if c == nil {
		return nil
	}
	return c.WhitelistModules
}

// blacklist returns the configured module blacklist, nil-safe.
func (c *Config) blacklist() []string {
	if c == nil {
		return nil
	}
	return c.BlacklistModules
}
