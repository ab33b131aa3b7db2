// doc.go: package documentation for go-lazyload
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package lazyload implements a lazy, directory-scanning plugin loader
// for Lua-sourced plugin modules.
//
// A LazyLoader manages one plugin category (a "tag" such as "grains" or
// "states"). It resolves an ordered list of search directories from
// built-in, extension-contributed and user-configured sources, scans them
// for plugin sources, and materializes each plugin on first access: the
// source is executed in a fresh sandboxed Lua state with a shared
// dependency pack injected under reserved names, the plugin's optional
// virtual predicate decides its published identity, and the surviving
// callables are exposed through a mapping-like interface keyed
// "module.function".
//
// Key properties:
//   - Lazy: nothing executes until a key is looked up (or the full key
//     set is requested).
//   - Isolated failure: one broken plugin or extension never aborts
//     loading of its siblings.
//   - Cached: both successful loads and virtual rejections are cached
//     until Clear, teardown, or a detected source change.
//   - Shared pack: plugins of a category share one context store and can
//     call each other through the injected sibling bridge.
//
// Example usage:
//
//	lazyload.RegisterInternalRoot("/opt/app/plugins")
//
//	loader, err := lazyload.NewLazyLoader(lazyload.LoaderOptions{
//	    Tag:         "grains",
//	    InternalDir: "/opt/app/plugins/grains",
//	    Config:      cfg,
//	    UseVirtual:  true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loader.Clean()
//
//	fn, err := loader.Get("os.family")
//	if err == nil {
//	    family, _ := fn()
//	    fmt.Println(family)
//	}
package lazyload
