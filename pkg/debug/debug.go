// Package debug provides global debug logging flags
package debug

import "github.com/teslashibe/go-humanrect/internal/log"

// Enabled controls whether debug logging is active
var Enabled bool

// Pipeline controls whether per-frame logs are shown (hand-off, detection,
// render, stale discards). Use --debug-pipeline to enable these very verbose logs
var Pipeline bool

// Log logs msg at debug level only if debug mode is enabled
func Log(msg string, args ...any) {
	if Enabled {
		log.Debug(msg, args...)
	}
}

// FrameLog logs msg at debug level only if pipeline debug mode is enabled
func FrameLog(msg string, args ...any) {
	if Pipeline {
		log.Debug(msg, args...)
	}
}
