package decay

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/festats/internal/core"
	fx "firestige.xyz/festats/internal/core/fixedpoint"
)

// Native record layout, shared with existing callers:
//
//	offset  0  u64       last update (ns)
//	offset  8  5 x i32   linear sums
//	offset 28  5 x i32   square sums
//	offset 48  5 x i32   weights
//	offset 68  bool      difference mode
//	offset 69  3 bytes   padding
const (
	RecordSize = 72

	offLinear = 8
	offSquare = offLinear + 4*Windows
	offWeight = offSquare + 4*Windows
	offIsDiff = offWeight + 4*Windows
)

// MarshalBinary encodes s in the native record layout.
func (s *IncStat) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	s.PutRecord(b)
	return b, nil
}

// PutRecord writes s into b, which must hold at least RecordSize bytes.
func (s *IncStat) PutRecord(b []byte) {
	_ = b[RecordSize-1]
	ne := binary.NativeEndian
	ne.PutUint64(b[0:8], s.LastUpdate)
	for i := 0; i < Windows; i++ {
		ne.PutUint32(b[offLinear+4*i:], uint32(s.LinearSum[i]))
		ne.PutUint32(b[offSquare+4*i:], uint32(s.SquareSum[i]))
		ne.PutUint32(b[offWeight+4*i:], uint32(s.Weight[i]))
	}
	b[offIsDiff] = 0
	if s.IsDiff {
		b[offIsDiff] = 1
	}
	b[69], b[70], b[71] = 0, 0, 0
}

// UnmarshalBinary decodes a native record.
func (s *IncStat) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: accumulator record needs %d bytes, got %d", core.ErrInvalidArgument, RecordSize, len(b))
	}
	ne := binary.NativeEndian
	s.LastUpdate = ne.Uint64(b[0:8])
	for i := 0; i < Windows; i++ {
		s.LinearSum[i] = fx.Fixed(ne.Uint32(b[offLinear+4*i:]))
		s.SquareSum[i] = fx.Fixed(ne.Uint32(b[offSquare+4*i:]))
		s.Weight[i] = fx.Fixed(ne.Uint32(b[offWeight+4*i:]))
	}
	s.IsDiff = b[offIsDiff] != 0
	return nil
}
