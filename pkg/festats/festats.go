// Package festats is the stable boundary of the feature-extraction core:
// fixed-layout records and integer status codes, so callers that only see
// raw memory can drive the accumulator and the packet hasher.
package festats

import (
	"sync/atomic"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decay"
	fx "firestige.xyz/festats/internal/core/fixedpoint"
	"firestige.xyz/festats/internal/core/flowhash"
)

// Status is the integer result code of every boundary operation.
type Status = core.Status

const (
	StatusOK                 = core.StatusOK
	StatusTruncated          = core.StatusTruncated
	StatusUnsupported        = core.StatusUnsupported
	StatusOverflow           = core.StatusOverflow
	StatusTemporalRegression = core.StatusTemporalRegression
	StatusInvalidArgument    = core.StatusInvalidArgument
)

// IncStatRecord is the 72-byte accumulator record.
type IncStatRecord = decay.IncStat

// HashRecord is the 72-byte hash bundle record.
type HashRecord = flowhash.HashBundle

const (
	IncStatRecordSize = decay.RecordSize
	HashRecordSize    = flowhash.BundleSize
)

var lambdas atomic.Pointer[decay.Lambdas]

func init() {
	l := decay.DefaultLambdas
	lambdas.Store(&l)
}

// SetLambdas replaces the process-wide decay rates used by
// UpdateAndProcessDecay and UpdateRaw.
func SetLambdas(rates []float64) Status {
	l, err := decay.LambdasFromFloats(rates)
	if err != nil {
		return StatusInvalidArgument
	}
	lambdas.Store(&l)
	return StatusOK
}

// Lambdas returns the current decay rates.
func Lambdas() []float64 {
	return lambdas.Load().Floats()
}

// EncodeMeasurement converts a real measurement to its Q15.16 form.
func EncodeMeasurement(x float64) (int32, Status) {
	v, err := fx.Encode(x)
	return int32(v), core.StatusOf(err)
}

// UpdateAndProcessDecay folds measurement m (Q15.16) observed at ts
// (nanoseconds) into rec. StatusOverflow still updates rec;
// StatusTemporalRegression leaves it untouched.
func UpdateAndProcessDecay(ts uint64, m int32, rec *IncStatRecord) Status {
	if rec == nil {
		return StatusInvalidArgument
	}
	return core.StatusOf(lambdas.Load().Update(ts, fx.Fixed(m), rec))
}

// UpdateRaw is UpdateAndProcessDecay over the native record bytes in buf.
func UpdateRaw(ts uint64, m int32, buf []byte) Status {
	var rec IncStatRecord
	if err := rec.UnmarshalBinary(buf); err != nil {
		return StatusInvalidArgument
	}
	st := UpdateAndProcessDecay(ts, m, &rec)
	if st == StatusOK || st == StatusOverflow {
		rec.PutRecord(buf)
	}
	return st
}

// ParseAndHash parses one Ethernet frame and writes its hash bundle to out.
// out is left untouched on failure.
func ParseAndHash(data []byte, out *HashRecord) Status {
	if out == nil {
		return StatusInvalidArgument
	}
	b, err := flowhash.ParseAndHash(data)
	if err != nil {
		return core.StatusOf(err)
	}
	*out = b
	return StatusOK
}

// ParseAndHashRaw is ParseAndHash writing the native record bytes to out.
func ParseAndHashRaw(data, out []byte) Status {
	if len(out) < HashRecordSize {
		return StatusInvalidArgument
	}
	var b HashRecord
	if st := ParseAndHash(data, &b); st != StatusOK {
		return st
	}
	b.PutRecord(out)
	return StatusOK
}
