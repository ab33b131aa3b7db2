// filter_dict.go: suffix-filtered read-through view over a LazyLoader
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"strings"
)

// FilterView is a read-only view over a LazyLoader that exposes only the
// published keys carrying a required suffix, with the suffix stripped
// from the externally visible key. It is how a generic loader instance is
// specialized for one plugin shape, e.g. a ".render" view over the
// renderers category:
//
//	renderers := lazyload.NewFilterView(loader, ".render")
//	render, err := renderers.Get("jinja")   // resolves "jinja.render"
//
// The view holds no cache of its own: every read delegates to the
// underlying loader, so lazy materialization, staleness handling and
// missing-caching all still happen there.
type FilterView struct {
	loader *LazyLoader
	suffix string
}

// NewFilterView wraps a loader with a required key suffix. The suffix
// must be non-empty; the conventional form includes the dot separator.
func NewFilterView(loader *LazyLoader, suffix string) *FilterView {
	return &FilterView{loader: loader, suffix: suffix}
}

// Get resolves a stripped key through the underlying loader.
func (v *FilterView) Get(key string) (Function, error) {
	return v.loader.Get(key + v.suffix)
}

// Contains reports whether the stripped key resolves.
func (v *FilterView) Contains(key string) bool {
	return v.loader.Contains(key + v.suffix)
}

// Keys returns every matching key with the suffix stripped. Triggers a
// full load on the underlying loader.
func (v *FilterView) Keys() []string {
	var keys []string
	for _, key := range v.loader.Keys() {
		if strings.HasSuffix(key, v.suffix) {
			keys = append(keys, strings.TrimSuffix(key, v.suffix))
		}
	}
	return keys
}

// Len returns the number of matching keys. Triggers a full load.
func (v *FilterView) Len() int {
	return len(v.Keys())
}

// Items returns a snapshot of stripped key to callable for every
// matching key. Triggers a full load.
func (v *FilterView) Items() map[string]Function {
	items := make(map[string]Function)
	for key, fn := range v.loader.Items() {
		if strings.HasSuffix(key, v.suffix) {
			items[strings.TrimSuffix(key, v.suffix)] = fn
		}
	}
	return items
}
