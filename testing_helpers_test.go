// testing_helpers_test.go: shared fixtures for the go-lazyload test suite
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeSource writes a Lua plugin source into dir and returns its path.
func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+sourceExtension)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// writePackageSource writes a package-style plugin (dir/name/init.lua),
// optionally with a manifest, and returns the entry file path.
func writePackageSource(t *testing.T, dir, name, body, manifest string) string {
	t.Helper()
	pkgDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	path := filepath.Join(pkgDir, packageEntryFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(pkgDir, packageManifestFile), []byte(manifest), 0o644))
	}
	return path
}

// newTestLoader builds a loader over the given directories (highest
// priority first) with virtual checking enabled. Directories are wired
// through the tag-dirs convention so no internal root is needed.
func newTestLoader(t *testing.T, tag string, dirs ...string) *LazyLoader {
	t.Helper()
	return newTestLoaderWith(t, LoaderOptions{Tag: tag, UseVirtual: true}, dirs...)
}

// newTestLoaderWith is newTestLoader with explicit options; dirs override
// any configured tag dirs.
func newTestLoaderWith(t *testing.T, opts LoaderOptions, dirs ...string) *LazyLoader {
	t.Helper()
	if opts.Config == nil {
		opts.Config = &Config{}
	}
	if opts.Config.TagDirs == nil {
		opts.Config.TagDirs = map[string][]string{}
	}
	opts.Config.TagDirs[opts.Tag] = dirs
	loader, err := NewLazyLoader(opts)
	require.NoError(t, err)
	t.Cleanup(loader.Clean)
	return loader
}

// contextInt reads an integer counter from a loader's shared context.
func contextInt(t *testing.T, loader *LazyLoader, key string) int64 {
	t.Helper()
	value, ok := loader.Pack().Context.Get(key)
	if !ok {
		return 0
	}
	n, ok := value.(int64)
	require.True(t, ok, "context value %q is %T, want int64", key, value)
	return n
}
