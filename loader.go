// loader.go: the LazyLoader orchestrator and its mapping interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"os"
	"strings"
	"sync"
)

// ModuleStatus describes where an identifier sits in the loading state
// machine. Scanned identifiers have a known candidate but no executed
// namespace yet; missing ones failed their virtual check or raised during
// load and will not be re-attempted until Clear.
type ModuleStatus string

const (
	// StatusUnscanned means the identifier has no candidate.
	StatusUnscanned ModuleStatus = "unscanned"
	// StatusScanned means a candidate is known but not materialized.
	StatusScanned ModuleStatus = "scanned"
	// StatusLoading means materialization is in progress.
	StatusLoading ModuleStatus = "loading"
	// StatusLoaded means the module is live.
	StatusLoaded ModuleStatus = "loaded"
	// StatusMissing means the module was rejected or failed to load.
	StatusMissing ModuleStatus = "missing"
)

// LoaderOptions configures a LazyLoader instance.
type LoaderOptions struct {
	// Tag is the category name ("grains", "states", ...). Required. Used
	// as publication tag, config key prefix and namespace registry key.
	Tag string `json:"tag" yaml:"tag"`

	// InternalDir is the built-in plugin directory for the category. It
	// must descend from a registered internal root; violation is fatal.
	// May be empty for loaders with purely external sources.
	InternalDir string `json:"internal_dir" yaml:"internal_dir"`

	// Config is the parsed host configuration. Optional.
	Config *Config `json:"-" yaml:"-"`

	// UseVirtual enables the virtual visibility protocol for this
	// category.
	UseVirtual bool `json:"use_virtual" yaml:"use_virtual"`

	// PackExtras are caller-supplied cross references injected into every
	// module namespace under "__<name>__".
	PackExtras map[string]any `json:"-" yaml:"-"`

	// Whitelist and Blacklist override the Config-level lists when
	// non-nil.
	Whitelist []string `json:"whitelist" yaml:"whitelist"`
	Blacklist []string `json:"blacklist" yaml:"blacklist"`

	// Logger receives loader diagnostics. Defaults to silence.
	Logger Logger `json:"-" yaml:"-"`
}

// LazyLoader is a lazily-populated, mapping-like view over one plugin
// category. Keys are "module.function"; a key lookup materializes the
// backing module on first access, and both successes and failures are
// cached until Clear, teardown, or a detected source change.
//
// A LazyLoader provides no internal locking: drive one instance from one
// goroutine, or serialize access externally. (The process-wide namespace
// registry the loader shares with sibling instances is internally
// synchronized.) This also makes the sibling bridge reentrant: a plugin
// body may call back into its own loader while it is being materialized.
type LazyLoader struct {
	tag         string
	internalDir string
	cfg         *Config
	logger      Logger
	useVirtual  bool

	pack      *Pack
	whitelist []string
	blacklist []string

	dirs    []string
	mapping *FileMapping

	loaded  map[string]*LoadedModule // keyed by published name (virtual name and aliases)
	byIdent map[string]*LoadedModule // keyed by scan identifier
	missing map[string]string        // scan identifier -> reason
	loading map[string]bool          // reentrancy guard during materialization

	// stale is the only loader state touched from another goroutine (the
	// source watcher's callback), so it carries its own lock.
	staleMu sync.Mutex
	stale   map[string]bool

	fullyLoaded bool
	cleaned     bool
}

// NewLazyLoader resolves the category's search directories, scans them,
// and returns a loader with every candidate in the scanned state. No
// plugin code executes yet.
//
// The only error returned is the fatal configuration class: a missing
// tag, or a built-in directory outside the registered internal roots.
func NewLazyLoader(opts LoaderOptions) (*LazyLoader, error) {
	if opts.Tag == "" {
		return nil, NewInvalidLoaderOptionsError("loader tag is required")
	}
	logger := ensureLogger(opts.Logger).With("tag", opts.Tag)

	dirs, err := resolvePaths(opts.Tag, opts.InternalDir, opts.Config, logger)
	if err != nil {
		return nil, err
	}

	whitelist := opts.Whitelist
	if whitelist == nil {
		whitelist = opts.Config.whitelist()
	}
	blacklist := opts.Blacklist
	if blacklist == nil {
		blacklist = opts.Config.blacklist()
	}

	loader := &LazyLoader{
		tag:         opts.Tag,
		internalDir: opts.InternalDir,
		cfg:         opts.Config,
		logger:      logger,
		useVirtual:  opts.UseVirtual,
		pack:        newPack(opts.Config.options(), opts.PackExtras),
		whitelist:   whitelist,
		blacklist:   blacklist,
		dirs:        dirs,
		loaded:      make(map[string]*LoadedModule),
		byIdent:     make(map[string]*LoadedModule),
		missing:     make(map[string]string),
		loading:     make(map[string]bool),
		stale:       make(map[string]bool),
	}
	loader.mapping = scanDirectories(dirs, whitelist, blacklist, logger)

	// The base stub keeps the tag's registry slot alive across sibling
	// teardowns; every loader of the tag holds one reference.
	namespaces.retain(opts.Tag, baseStubIdent, nil)

	logger.Debug("Loader constructed",
		"directories", len(dirs), "candidates", loader.mapping.Len())
	return loader, nil
}

// Tag returns the category tag.
func (l *LazyLoader) Tag() string {
	return l.tag
}

// Dirs returns the resolved search directories, highest priority first.
func (l *LazyLoader) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// Pack returns the loader's dependency pack. Identity is stable for the
// loader's lifetime.
func (l *LazyLoader) Pack() *Pack {
	return l.pack
}

// Get returns the published callable for a dotted "module.function" key,
// materializing the backing module on first access. Module identifiers
// may themselves contain dots, so every dot in the key is a candidate
// module/function split, tried shortest module name first; a shorter
// module that lacks the function does not end the search. A key that
// resolves to nothing returns a not-found error that callers should test
// with IsNotFound; probing for optional plugins is routine and never
// logged above debug.
func (l *LazyLoader) Get(key string) (Function, error) {
	var lastErr error
	for i := strings.IndexByte(key, '.'); i > 0 && i < len(key)-1; {
		module, err := l.module(key[:i])
		if err == nil {
			fn, ferr := module.Func(key[i+1:])
			if ferr == nil {
				return fn, nil
			}
			lastErr = ferr
		} else if !IsNotFound(err) {
			return nil, err
		}
		next := strings.IndexByte(key[i+1:], '.')
		if next < 0 {
			break
		}
		i += 1 + next
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, NewModuleNotFoundError(key)
}

// GetModule returns the materialized module published under name,
// loading it on demand. This is the bare-name convenience lookup; the
// dotted Get form is the stable contract.
func (l *LazyLoader) GetModule(name string) (*LoadedModule, error) {
	return l.module(name)
}

// Contains reports whether key resolves to a published callable (dotted
// "module.function" form) or a published module name, which may itself
// contain dots. It never returns an error; a failed or rejected module is
// simply absent.
func (l *LazyLoader) Contains(key string) bool {
	if strings.Contains(key, ".") {
		if _, err := l.Get(key); err == nil {
			return true
		}
	}
	_, err := l.module(key)
	return err == nil
}

// LoadAll materializes every scanned identifier that is not yet loaded or
// missing. Per-plugin failures are absorbed: the call always succeeds and
// the failures land in MissingModules.
func (l *LazyLoader) LoadAll() {
	if l.cleaned {
		return
	}
	for _, ident := range l.mapping.Identifiers() {
		l.ensureIdent(ident)
	}
	l.fullyLoaded = true
}

// Keys returns every published "module.function" key. Triggers a full
// load.
func (l *LazyLoader) Keys() []string {
	l.LoadAll()
	var keys []string
	for name, module := range l.loaded {
		for _, fn := range module.Functions() {
			keys = append(keys, name+"."+fn)
		}
	}
	return keys
}

// Len returns the number of published keys. Triggers a full load.
func (l *LazyLoader) Len() int {
	return len(l.Keys())
}

// Items returns a snapshot of every published key to its callable.
// Triggers a full load.
func (l *LazyLoader) Items() map[string]Function {
	l.LoadAll()
	items := make(map[string]Function)
	for name, module := range l.loaded {
		for _, fn := range module.Functions() {
			f, _ := module.Func(fn)
			items[name+"."+fn] = f
		}
	}
	return items
}

// MissingModules returns identifier -> reason for every candidate that
// failed its virtual check or raised during load. Diagnostics only.
func (l *LazyLoader) MissingModules() map[string]string {
	out := make(map[string]string, len(l.missing))
	for ident, reason := range l.missing {
		out[ident] = reason
	}
	return out
}

// Superseded returns the lower-priority candidates that lost the scan's
// priority race, for diagnostics.
func (l *LazyLoader) Superseded() map[string][]string {
	return l.mapping.Superseded()
}

// Status reports where an identifier sits in the loading state machine.
func (l *LazyLoader) Status(ident string) ModuleStatus {
	switch {
	case l.loading[ident]:
		return StatusLoading
	case l.byIdent[ident] != nil:
		return StatusLoaded
	case l.missing[ident] != "":
		return StatusMissing
	default:
		if _, ok := l.mapping.entries[ident]; ok {
			return StatusScanned
		}
		// Published-name aliases resolve to loaded even though they are
		// not scan identifiers.
		if _, ok := l.loaded[ident]; ok {
			return StatusLoaded
		}
		return StatusUnscanned
	}
}

// Clear drops every loaded namespace and cached failure, then rescans the
// search directories from scratch so added, removed or renamed sources
// are picked up. The pack (and its context store) survives.
func (l *LazyLoader) Clear() {
	if l.cleaned {
		return
	}
	l.dropAllModules()
	l.missing = make(map[string]string)
	l.resetStale()
	l.fullyLoaded = false

	if dirs, err := resolvePaths(l.tag, l.internalDir, l.cfg, l.logger); err == nil {
		l.dirs = dirs
	}
	l.mapping = scanDirectories(l.dirs, l.whitelist, l.blacklist, l.logger)
	l.logger.Debug("Loader cleared and rescanned", "candidates", l.mapping.Len())
}

// Clean tears the loader down: every loaded namespace is closed, all
// internal mappings are dropped, and the loader's references in the
// process-wide namespace registry are released. Entries still referenced
// by sibling loaders of the same tag survive (stub sharing). Clean is
// idempotent; a cleaned loader answers every lookup with not-found.
func (l *LazyLoader) Clean() {
	if l.cleaned {
		return
	}
	l.dropAllModules()
	l.mapping = newFileMapping()
	l.missing = make(map[string]string)
	l.resetStale()
	l.cleaned = true
	namespaces.release(l.tag, baseStubIdent)
	l.logger.Debug("Loader cleaned")
}

// MarkStalePath flags the loaded module backed by the given source path
// for re-materialization on next access. Used by the source watcher.
func (l *LazyLoader) MarkStalePath(path string) {
	l.staleMu.Lock()
	defer l.staleMu.Unlock()
	for ident, module := range l.byIdent {
		if module.Path == path {
			l.stale[ident] = true
		}
	}
}

func (l *LazyLoader) resetStale() {
	l.staleMu.Lock()
	l.stale = make(map[string]bool)
	l.staleMu.Unlock()
}

// hasCandidate reports whether an identifier survived scanning. Used by
// the per-callable dependency checks.
func (l *LazyLoader) hasCandidate(ident string) bool {
	_, ok := l.mapping.entries[ident]
	return ok
}

// module resolves a published module name, materializing on demand.
//
// Resolution order: already-published names (with staleness check), then
// the scan identifier, then - because the virtual protocol can publish a
// module under a name unrelated to its filename - a one-time full load
// before concluding the name is absent. After a full load every published
// name is known, so repeated misses stay cheap map lookups.
func (l *LazyLoader) module(name string) (*LoadedModule, error) {
	if l.cleaned {
		return nil, NewModuleNotFoundError(name)
	}

	if module, ok := l.loaded[name]; ok {
		if l.isStale(module) {
			l.logger.Debug("Module source changed, re-materializing", "module", module.Ident)
			l.reload(module)
		} else {
			return module, nil
		}
		if module, ok := l.loaded[name]; ok {
			return module, nil
		}
		return nil, NewModuleNotFoundError(name)
	}

	if _, ok := l.mapping.entries[name]; ok {
		l.ensureIdent(name)
		// Only published names resolve: a module the virtual protocol
		// renamed is not reachable under its filename identifier.
		if module, ok := l.loaded[name]; ok {
			return module, nil
		}
		return nil, NewModuleNotFoundError(name)
	}

	if !l.fullyLoaded {
		l.LoadAll()
		if module, ok := l.loaded[name]; ok {
			return module, nil
		}
	}
	return nil, NewModuleNotFoundError(name)
}

// ensureIdent materializes a scanned identifier unless it is already
// loaded, known missing, or currently loading (reentrant self-reference
// through the sibling bridge).
func (l *LazyLoader) ensureIdent(ident string) {
	if l.byIdent[ident] != nil {
		module := l.byIdent[ident]
		if l.isStale(module) {
			l.logger.Debug("Module source changed, re-materializing", "module", ident)
			l.reload(module)
		}
		return
	}
	if _, missing := l.missing[ident]; missing {
		return
	}
	if l.loading[ident] {
		return
	}
	cand, ok := l.mapping.entries[ident]
	if !ok {
		return
	}

	l.loading[ident] = true
	module, failure := materializeModule(ident, cand, l.pack, l, l.useVirtual)
	delete(l.loading, ident)

	if failure != nil {
		l.missing[ident] = failure.reason
		if failure.err != nil {
			l.logger.Error("Module failed to load", "module", ident, "error", failure.err)
		} else {
			l.logger.Debug("Module opted out", "module", ident, "reason", failure.reason)
		}
		return
	}

	l.adopt(module)
	l.logger.Debug("Module loaded",
		"module", ident, "published", module.VirtualName, "functions", len(module.funcs))
}

// adopt publishes a materialized module under its virtual name and every
// alias, and registers those names in the process-wide registry.
func (l *LazyLoader) adopt(module *LoadedModule) {
	l.byIdent[module.Ident] = module
	for _, name := range module.publishedNames() {
		l.loaded[name] = module
		namespaces.retain(l.tag, name, module.funcs)
	}
}

// drop unpublishes and closes a module, releasing its registry entries.
func (l *LazyLoader) drop(module *LoadedModule) {
	for _, name := range module.publishedNames() {
		if l.loaded[name] == module {
			delete(l.loaded, name)
		}
		namespaces.release(l.tag, name)
	}
	delete(l.byIdent, module.Ident)
	module.close()
}

func (l *LazyLoader) dropAllModules() {
	for _, module := range l.byIdent {
		for _, name := range module.publishedNames() {
			if l.loaded[name] == module {
				delete(l.loaded, name)
			}
			namespaces.release(l.tag, name)
		}
		module.close()
	}
	l.byIdent = make(map[string]*LoadedModule)
	l.loaded = make(map[string]*LoadedModule)
}

// isStale reports whether a loaded module's source has changed since it
// was executed, either by mtime comparison or an explicit watcher flag.
func (l *LazyLoader) isStale(module *LoadedModule) bool {
	l.staleMu.Lock()
	flagged := l.stale[module.Ident]
	l.staleMu.Unlock()
	if flagged {
		return true
	}
	info, err := os.Stat(module.Path)
	if err != nil {
		// Source vanished mid-flight; keep serving the loaded namespace
		// until a Clear picks up the removal.
		return false
	}
	return info.ModTime().After(module.loadedAt)
}

// reload re-materializes a stale module in place. A re-materialization
// failure demotes the identifier to missing, exactly as a fresh load
// would.
func (l *LazyLoader) reload(module *LoadedModule) {
	ident := module.Ident
	l.drop(module)
	l.staleMu.Lock()
	delete(l.stale, ident)
	l.staleMu.Unlock()
	l.ensureIdent(ident)
}
