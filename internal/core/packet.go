// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawPacket is captured from the network interface, zero-copy reference to ring buffer.
type RawPacket struct {
	Data           []byte    // Raw frame data, zero-copy slice
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
}

// DecodedPacket is the result of L2-L4 protocol stack decoding.
// It holds no references into the raw buffer, so it outlives zero-copy reads.
type DecodedPacket struct {
	Timestamp  time.Time
	Ethernet   EthernetHeader
	IP         IPHeader
	Transport  TransportHeader
	HeaderLen  uint16 // bytes consumed by L2-L4 headers
	CaptureLen uint32
	OrigLen    uint32
}

// FeatureVector is the per-packet output handed to reporters.
type FeatureVector struct {
	RunID     string
	Timestamp time.Time

	// Network context
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	Length   uint32

	// Combined dispatch hash of the packet
	FlowHash int32

	Values []float64
	// Overflow is set when any accumulator saturated while producing Values.
	Overflow bool

	Labels Labels
}

// CaptureStats counts what a packet source delivered and lost.
type CaptureStats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`    // lost inside the process
	IfDropped uint64 `json:"if_dropped"` // lost by the kernel or interface
}
