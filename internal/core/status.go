package core

import "errors"

// Status is the integer result code returned across the binary boundary.
// 0 is success, negative values identify the error kind.
type Status int32

const (
	StatusOK                 Status = 0
	StatusTruncated          Status = -1
	StatusUnsupported        Status = -2
	StatusOverflow           Status = -3
	StatusTemporalRegression Status = -4
	StatusInvalidArgument    Status = -22
)

// StatusOf maps an error returned by the core to its status code.
// Unknown errors map to StatusInvalidArgument.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrTruncated):
		return StatusTruncated
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrOverflow):
		return StatusOverflow
	case errors.Is(err, ErrTemporalRegression):
		return StatusTemporalRegression
	default:
		return StatusInvalidArgument
	}
}

// Err is the inverse of StatusOf for the known codes.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusTruncated:
		return ErrTruncated
	case StatusUnsupported:
		return ErrUnsupported
	case StatusOverflow:
		return ErrOverflow
	case StatusTemporalRegression:
		return ErrTemporalRegression
	default:
		return ErrInvalidArgument
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTruncated:
		return "truncated"
	case StatusUnsupported:
		return "unsupported"
	case StatusOverflow:
		return "overflow"
	case StatusTemporalRegression:
		return "temporal_regression"
	case StatusInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}
