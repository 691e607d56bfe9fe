// Package logging provides standardized logging utilities for the upload engine.
// This file defines structured logging functions for errors.
package logging

import "fmt"

// LogWarnWithContext logs a warning with the given context.
func LogWarnWithContext(err error, ctx LogContext, msg string) {
	if err == nil {
		return
	}
	ctx.Logger().Warn().Err(err).Msg(msg)
}

// LogInfoWithContext logs an info message with the given context.
func LogInfoWithContext(ctx LogContext, msg string) {
	ctx.Logger().Info().Msg(msg)
}

// LogDebugWithContext logs a debug message with the given context.
func LogDebugWithContext(ctx LogContext, msg string) {
	ctx.Logger().Debug().Msg(msg)
}

// WrapAndLogWithContext wraps an error, logs it with context, and returns the wrapped error.
func WrapAndLogWithContext(err error, ctx LogContext, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	LogErrorWithContext(wrapped, ctx, msg)
	return wrapped
}

// EnrichErrorWithContext adds context information to an error without logging it.
func EnrichErrorWithContext(err error, ctx LogContext, msg string) error {
	if err == nil {
		return nil
	}
	contextMsg := msg
	if ctx.Operation != "" {
		contextMsg += " (operation: " + ctx.Operation + ")"
	}
	if ctx.UploadID != "" {
		contextMsg += " (uploadId: " + ctx.UploadID + ")"
	}
	return fmt.Errorf("%s: %w", contextMsg, err)
}
