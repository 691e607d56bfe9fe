// Package logging provides standardized logging utilities for the upload engine.
// This file defines constants used throughout the logging package.
package logging

// Standard field names for logging.
const (
	FieldOperation   = "operation"    // Higher-level operation
	FieldComponent   = "component"    // Component or module
	FieldDuration    = "duration_ms"  // Duration of operation in milliseconds
	FieldID          = "id"           // Upload identifier
	FieldStatus      = "status"       // Status code or string
	FieldSize        = "size"         // Size in bytes
	FieldOffset      = "offset"       // Offset in bytes
	FieldCount       = "count"        // Count of items
	FieldRetries     = "retries"      // Number of retries
	FieldStatusCode  = "status_code"  // HTTP status code
	FieldContentType = "content_type" // Content type
	FieldURL         = "url"          // URL
)
