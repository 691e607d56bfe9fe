package logging

import "github.com/rs/zerolog"

// IsLevelEnabled returns true if the given level would actually be written
// by the global logger, letting callers skip building expensive log fields
// when the message would be discarded anyway.
func IsLevelEnabled(level Level) bool {
	return zerolog.GlobalLevel() <= zerolog.Level(level)
}
