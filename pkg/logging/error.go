// Package logging provides standardized logging utilities for the upload engine.
// This file defines error logging functionality: logging an error with
// additional fields, optionally scoped to a LogContext, and the
// wrap-then-log convenience used throughout the engine and transport code.
package logging

import "fmt"

// LogError logs an error with additional key/value fields.
func LogError(err error, msg string, fields ...interface{}) {
	if err == nil || !IsLevelEnabled(ErrorLevel) {
		return
	}
	event := Error().Err(err)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// LogErrorAsWarn logs an error at warn level, for failures the engine
// tolerates (best-effort server notifications, non-fatal persistence).
func LogErrorAsWarn(err error, msg string, fields ...interface{}) {
	if err == nil || !IsLevelEnabled(WarnLevel) {
		return
	}
	event := Warn().Err(err)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// LogErrorWithContext logs an error using the fields carried by ctx.
func LogErrorWithContext(err error, ctx LogContext, msg string, fields ...interface{}) {
	if err == nil || !IsLevelEnabled(ErrorLevel) {
		return
	}
	event := WithLogContext(ctx).Error().Err(err)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// WrapAndLogError wraps err with msg, logs the wrapped error, and returns it.
func WrapAndLogError(err error, msg string, fields ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	LogError(wrapped, msg, fields...)
	return wrapped
}
