// Package errors is the error package used throughout cadence.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and marks from a single import, and it defines the
// sentinels that make up the scheduling error taxonomy:
//
//	ErrInvalidConfiguration  schedule or config rejected at construction, never retried
//	ErrRepository            transient store failure, retried on the next cycle
//	ErrExecutionTimeout      job body did not finish within its timeout
//	ErrExecutionFailed       job body returned an error or panicked
//
// Usage:
//
//	if err := repo.Open(ctx); err != nil {
//	    return errors.Mark(errors.Wrap(err, "open repository"), errors.ErrRepository)
//	}
//
//	if errors.Is(err, errors.ErrRepository) {
//	    // retry on the next sweep
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	Unwrap       = crdb.Unwrap
	UnwrapAll    = crdb.UnwrapAll
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Marks attach a sentinel to an error without changing its message.
var (
	Mark             = crdb.Mark
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors. Match them with errors.Is; attach them with Mark or Wrap.
var (
	// ErrNotFound indicates the requested job or record does not exist
	ErrNotFound = New("not found")

	// ErrConflict indicates a duplicate key on create
	ErrConflict = New("resource conflict")

	// ErrInvalidConfiguration indicates a schedule or configuration value was rejected
	ErrInvalidConfiguration = New("invalid configuration")

	// ErrRepository indicates the job repository could not be read or written
	ErrRepository = New("repository unavailable")

	// ErrExecutionTimeout indicates a job did not complete within its timeout
	ErrExecutionTimeout = New("execution timed out")

	// ErrExecutionFailed indicates a job body returned an error or panicked
	ErrExecutionFailed = New("execution failed")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConfiguration reports whether err is or wraps ErrInvalidConfiguration.
func IsConfiguration(err error) bool {
	return err != nil && Is(err, ErrInvalidConfiguration)
}

// IsRepository reports whether err is or wraps ErrRepository.
func IsRepository(err error) bool {
	return err != nil && Is(err, ErrRepository)
}

// Repository marks err as a transient repository failure with context.
func Repository(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrRepository)
}

// Configurationf creates a configuration error with a formatted message.
func Configurationf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidConfiguration)
}
