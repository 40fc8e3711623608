package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity
	FieldJobID   = "job_id"
	FieldTenant  = "tenant"
	FieldETag    = "etag"
	FieldHandler = "handler"

	// Components
	FieldComponent = "component"

	// Scheduling
	FieldScheduledFor = "scheduled_for"
	FieldNextRun      = "next_run"
	FieldLastRun      = "last_run"
	FieldOutcome      = "outcome"
	FieldTimeout      = "timeout"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldInterval   = "interval"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount    = "count"
	FieldTracked  = "tracked"
	FieldCreated  = "created"
	FieldReplaced = "replaced"
	FieldRemoved  = "removed"
	FieldPageSize = "page_size"

	// Files and paths
	FieldPath = "path"
)

// ComponentLogger returns a named child of base, or of the global Logger when base is nil.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	func NewCoordinator(log *zap.SugaredLogger) *Coordinator {
//	    return &Coordinator{log: logger.ComponentLogger(log, "coordinator")}
//	}
func ComponentLogger(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	return base.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	jobLogger := logger.ChildLogger(baseLogger, logger.FieldJobID, job.ID())
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
