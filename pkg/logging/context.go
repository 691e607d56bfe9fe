// Package logging provides standardized logging utilities for the upload engine.
// This file defines the LogContext struct and related methods for context-based logging.
//
// LogContext carries the fields that recur across an upload's lifetime
// (its id, the operation in progress, the component that's logging) so
// call sites build one context once and pass it down instead of repeating
// Str(...) chains at every log site.
package logging

// LogContext represents a logging context that can be passed between functions.
type LogContext struct {
	UploadID   string
	Operation  string
	Component  string
	Additional map[string]interface{}
}

// NewLogContext creates a new LogContext with the given operation.
func NewLogContext(operation string) LogContext {
	return LogContext{
		Operation:  operation,
		Additional: make(map[string]interface{}),
	}
}

// WithUploadID adds an upload id to the log context.
func (lc LogContext) WithUploadID(uploadID string) LogContext {
	lc.UploadID = uploadID
	return lc
}

// WithComponent adds a component to the log context.
func (lc LogContext) WithComponent(component string) LogContext {
	lc.Component = component
	return lc
}

// With adds a custom field to the log context.
func (lc LogContext) With(key string, value interface{}) LogContext {
	if lc.Additional == nil {
		lc.Additional = make(map[string]interface{})
	}
	lc.Additional[key] = value
	return lc
}

// Logger returns a Logger with the context fields added.
func (lc LogContext) Logger() Logger {
	logger := DefaultLogger.With()

	if lc.UploadID != "" {
		logger = logger.Str(FieldID, lc.UploadID)
	}
	if lc.Operation != "" {
		logger = logger.Str(FieldOperation, lc.Operation)
	}
	if lc.Component != "" {
		logger = logger.Str(FieldComponent, lc.Component)
	}
	for k, v := range lc.Additional {
		logger = logger.Interface(k, v)
	}

	return logger.Logger()
}

// WithLogContext creates a new Logger with the given context.
func WithLogContext(ctx LogContext) Logger {
	return ctx.Logger()
}
