package engine

import (
	"sync/atomic"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decoder"
)

// counters are the engine's own packet counters.
type counters struct {
	Captured      atomic.Uint64
	Parsed        atomic.Uint64
	ParseErrors   atomic.Uint64
	Dispatched    atomic.Uint64
	Dropped       atomic.Uint64
	Processed     atomic.Uint64
	ProcessErrors atomic.Uint64
	Overflows     atomic.Uint64
	Reported      atomic.Uint64
	ReportErrors  atomic.Uint64
}

// Stats is a snapshot of engine progress.
type Stats struct {
	RunID    string `json:"run_id"`
	Dispatch string `json:"dispatch"`
	Workers  int    `json:"workers"`

	Captured    uint64 `json:"captured"`
	Parsed      uint64 `json:"parsed"`
	ParseErrors uint64 `json:"parse_errors"`
	Dispatched  uint64 `json:"dispatched"`
	// Dropped counts packets lost because a worker queue was full.
	Dropped       uint64 `json:"dropped"`
	Processed     uint64 `json:"processed"`
	ProcessErrors uint64 `json:"process_errors"`
	Overflows     uint64 `json:"overflows"`
	// Reported counts vectors accepted by every reporter.
	Reported     uint64 `json:"reported"`
	ReportErrors uint64 `json:"report_errors"`

	Source  core.CaptureStats `json:"source"`
	Decoder decoder.Stats     `json:"decoder"`
}
