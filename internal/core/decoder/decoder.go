// Package decoder implements bounded L2-L4 header decoding.
//
// Every read is preceded by a length check against the captured bytes, so
// malformed or short frames fail with core.ErrTruncated instead of reading
// past the buffer. Decoding never allocates and the result holds no
// references into the input slice.
package decoder

import (
	"sync/atomic"

	"firestige.xyz/festats/internal/core"
)

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Decode parses one Ethernet frame.
func Decode(data []byte) (core.DecodedPacket, error) {
	var pkt core.DecodedPacket

	eth, rest, err := decodeEthernet(data)
	if err != nil {
		return pkt, err
	}
	pkt.Ethernet = eth

	ip, rest, err := decodeIP(rest, eth.EtherType)
	if err != nil {
		return pkt, err
	}
	pkt.IP = ip

	if !ip.Fragment {
		tp, r, err := decodeTransport(rest, ip.Protocol)
		if err != nil {
			return pkt, err
		}
		pkt.Transport = tp
		rest = r
	} else {
		pkt.Transport.Protocol = ip.Protocol
	}

	pkt.HeaderLen = uint16(len(data) - len(rest))
	pkt.CaptureLen = uint32(len(data))
	pkt.OrigLen = uint32(len(data))
	return pkt, nil
}

// Stats counts decode outcomes.
type Stats struct {
	Decoded     uint64 `json:"decoded"`
	Truncated   uint64 `json:"truncated"`
	Unsupported uint64 `json:"unsupported"`
}

// StandardDecoder decodes RawPacket frames and counts outcomes. It is safe
// for concurrent use.
type StandardDecoder struct {
	decoded     atomic.Uint64
	truncated   atomic.Uint64
	unsupported atomic.Uint64
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder() *StandardDecoder {
	return &StandardDecoder{}
}

// Decode implements Decoder.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	pkt, err := Decode(raw.Data)
	switch core.StatusOf(err) {
	case core.StatusOK:
		d.decoded.Add(1)
	case core.StatusTruncated:
		d.truncated.Add(1)
		return pkt, err
	default:
		d.unsupported.Add(1)
		return pkt, err
	}

	pkt.Timestamp = raw.Timestamp
	if raw.CaptureLen != 0 {
		pkt.CaptureLen = raw.CaptureLen
	}
	if raw.OrigLen != 0 {
		pkt.OrigLen = raw.OrigLen
	}
	return pkt, nil
}

// Stats returns a snapshot of the counters.
func (d *StandardDecoder) Stats() Stats {
	return Stats{
		Decoded:     d.decoded.Load(),
		Truncated:   d.truncated.Load(),
		Unsupported: d.unsupported.Load(),
	}
}
