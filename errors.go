// errors.go: structured error definitions for the go-lazyload system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"github.com/agilira/go-errors"
)

// Error codes for the go-lazyload system
const (
	// Configuration errors (1000-1099) - the only fatal class
	ErrCodeInternalPathViolation = "LOADER_1001"
	ErrCodeInvalidLoaderOptions  = "LOADER_1002"

	// Scan errors (1200-1299) - recovered, scan continues
	ErrCodeDirectoryUnreadable = "SCAN_1201"
	ErrCodeManifestParse       = "SCAN_1202"

	// Load errors (1300-1399) - recovered per plugin
	ErrCodeModuleExecution  = "LOAD_1301"
	ErrCodeVirtualPredicate = "LOAD_1302"
	ErrCodeVirtualRejected  = "LOAD_1303"
	ErrCodeModuleClosed     = "LOAD_1304"

	// Extension discovery errors (1400-1499) - recovered per extension
	ErrCodeExtensionDiscovery = "EXT_1401"
	ErrCodeDuplicateExtension = "EXT_1402"

	// Lookup errors (1500-1599) - expected, routine feature probing
	ErrCodeModuleNotFound   = "LOOKUP_1501"
	ErrCodeFunctionNotFound = "LOOKUP_1502"

	// Snapshot cache errors (1600-1699) - recovered, treated as miss
	ErrCodeCacheCorrupt = "CACHE_1601"
	ErrCodeCacheWrite   = "CACHE_1602"
)

// Configuration error constructors

// NewInternalPathViolationError reports a built-in plugin directory that is
// not a descendant of any registered internal root. This is a packaging or
// deployment mistake, not a plugin runtime issue, and is deliberately fatal.
func NewInternalPathViolationError(dir string, roots []string) *errors.Error {
	return errors.New(ErrCodeInternalPathViolation, "Internal plugin path outside registered roots").
		WithUserMessage("The built-in plugin directory must live under a registered internal root").
		WithContext("directory", dir).
		WithContext("registered_roots", roots).
		WithSeverity("critical")
}

func NewInvalidLoaderOptionsError(reason string) *errors.Error {
	return errors.New(ErrCodeInvalidLoaderOptions, "Invalid loader options").
		WithUserMessage(reason).
		WithSeverity("error")
}

// Scan error constructors

func NewDirectoryUnreadableError(dir string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDirectoryUnreadable, "Plugin directory unreadable").
		WithContext("directory", dir).
		WithSeverity("warning")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Plugin manifest unparseable").
		WithContext("manifest", path).
		WithSeverity("warning")
}

// Load error constructors

func NewModuleExecutionError(ident, path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleExecution, "Plugin execution failed").
		WithUserMessage("The plugin source raised an error while executing").
		WithContext("module", ident).
		WithContext("source", path).
		WithSeverity("error")
}

func NewVirtualPredicateError(ident string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeVirtualPredicate, "Virtual predicate failed").
		WithContext("module", ident).
		WithSeverity("error")
}

func NewModuleClosedError(ident string) *errors.Error {
	return errors.New(ErrCodeModuleClosed, "Module has been torn down").
		WithContext("module", ident).
		WithSeverity("error")
}

// Extension error constructors

func NewExtensionDiscoveryError(name, version string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeExtensionDiscovery, "Extension discovery failed").
		WithContext("extension", name).
		WithContext("version", version).
		WithSeverity("error")
}

func NewDuplicateExtensionError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicateExtension, "Extension already registered").
		WithContext("extension", name).
		WithSeverity("error")
}

// Lookup error constructors. Not-found lookups are routine feature probing
// and carry info severity so callers can cheaply test for absence.

func NewModuleNotFoundError(key string) *errors.Error {
	return errors.New(ErrCodeModuleNotFound, "Module not found").
		WithContext("key", key).
		WithSeverity("info")
}

func NewFunctionNotFoundError(module, function string) *errors.Error {
	return errors.New(ErrCodeFunctionNotFound, "Function not found in module").
		WithContext("module", module).
		WithContext("function", function).
		WithSeverity("info")
}

// Cache error constructors

func NewCacheCorruptError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCacheCorrupt, "Snapshot cache unreadable").
		WithContext("cache_file", path).
		WithSeverity("warning")
}

func NewCacheWriteError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCacheWrite, "Snapshot cache write failed").
		WithContext("cache_file", path).
		WithSeverity("warning")
}

// IsNotFound reports whether err is a routine lookup miss (module or
// function absent). Callers probing for optional plugins should branch on
// this rather than treating the error as a failure.
func IsNotFound(err error) bool {
	if goErr, ok := err.(*errors.Error); ok {
		return goErr.Code == ErrCodeModuleNotFound || goErr.Code == ErrCodeFunctionNotFound
	}
	return false
}
