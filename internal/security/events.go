// Package security provides the one entry point every other package
// uses to record a security-relevant outcome, so the event name/field
// shape stays consistent across order placement, withdrawal, and admin
// operations.
package security

import "github.com/klingon-exchange/exchanged/pkg/logging"

// LogEvent records a security event through logger, grounded on the
// original's log_security_event: every caller passes an event name and
// a flat list of contextual fields, never a free-form message.
func LogEvent(logger *logging.Logger, event string, severe bool, fields ...interface{}) {
	logger.SecurityEvent(event, severe, fields...)
}
