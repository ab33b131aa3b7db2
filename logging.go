// logging.go: pluggable logging system for the go-lazyload library
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"sync"
)

// Logger defines the pluggable logging interface for the go-lazyload library.
//
// This interface enables users to integrate any logging framework (zap,
// logrus, zerolog, custom loggers) without external dependencies. The
// loader is severity-sensitive by contract: routine lookup misses are
// never logged above debug, while predicate and execution failures are
// logged at error level.
//
// Example usage:
//
//	loader, _ := lazyload.NewLazyLoader(lazyload.LoaderOptions{
//	    Tag:    "grains",
//	    Logger: myZapAdapter,
//	})
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NoOpLogger provides a silent logger implementation for minimal setups
// and tests that do not assert on log output.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Return same instance since it's stateless
}

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
	context  []any
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	combined := make([]any, 0, len(t.context)+len(args))
	combined = append(combined, t.context...)
	combined = append(combined, args...)
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: combined})
}

// Debug implements Logger interface
func (t *TestLogger) Debug(msg string, args ...any) { t.record("debug", msg, args) }

// Info implements Logger interface
func (t *TestLogger) Info(msg string, args ...any) { t.record("info", msg, args) }

// Warn implements Logger interface
func (t *TestLogger) Warn(msg string, args ...any) { t.record("warn", msg, args) }

// Error implements Logger interface
func (t *TestLogger) Error(msg string, args ...any) { t.record("error", msg, args) }

// With implements Logger interface. The derived logger shares the parent's
// message store so tests see every record regardless of context.
func (t *TestLogger) With(args ...any) Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &childTestLogger{parent: t, context: append(append([]any{}, t.context...), args...)}
}

type childTestLogger struct {
	parent  *TestLogger
	context []any
}

func (c *childTestLogger) Debug(msg string, args ...any) {
	c.parent.record("debug", msg, append(append([]any{}, c.context...), args...))
}

func (c *childTestLogger) Info(msg string, args ...any) {
	c.parent.record("info", msg, append(append([]any{}, c.context...), args...))
}

func (c *childTestLogger) Warn(msg string, args ...any) {
	c.parent.record("warn", msg, append(append([]any{}, c.context...), args...))
}

func (c *childTestLogger) Error(msg string, args ...any) {
	c.parent.record("error", msg, append(append([]any{}, c.context...), args...))
}

func (c *childTestLogger) With(args ...any) Logger {
	return &childTestLogger{parent: c.parent, context: append(append([]any{}, c.context...), args...)}
}

// CountByLevel returns how many captured messages carry the given level.
func (t *TestLogger) CountByLevel(level string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, m := range t.Messages {
		if m.Level == level {
			count++
		}
	}
	return count
}

// HasMessage reports whether any captured message at the given level
// matches the given message text exactly.
func (t *TestLogger) HasMessage(level, msg string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.Messages {
		if m.Level == level && m.Message == msg {
			return true
		}
	}
	return false
}

// ensureLogger returns a usable logger, defaulting to silence.
func ensureLogger(logger Logger) Logger {
	if logger == nil {
		return NewNoOpLogger()
	}
	return logger
}
