// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers compare with errors.Is; wrapping is allowed.
var (
	// Parser errors
	ErrTruncated   = errors.New("festats: packet truncated")
	ErrUnsupported = errors.New("festats: unsupported protocol")

	// Accumulator errors
	ErrOverflow           = errors.New("festats: fixed-point overflow")
	ErrTemporalRegression = errors.New("festats: timestamp earlier than last update")

	// Boundary errors
	ErrInvalidArgument = errors.New("festats: invalid argument")

	// Flow table errors
	ErrTableFull = errors.New("festats: flow table full")

	// Engine errors
	ErrEngineRunning = errors.New("festats: engine already running")
	ErrEngineStopped = errors.New("festats: engine stopped")

	// Plugin errors
	ErrReporterNotFound = errors.New("festats: reporter not found")
	ErrSourceNotFound   = errors.New("festats: source not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("festats: invalid configuration")
)
