package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/festats/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// maxIPv6ExtHeaders bounds the extension header walk.
	maxIPv6ExtHeaders = 4

	protoHopByHop = 0
	protoRouting  = 43
	protoFragment = 44
	protoDestOpts = 60
)

// decodeIP decodes the IPv4 or IPv6 header selected by etherType.
// Returns the header and the bytes following all IP headers.
func decodeIP(data []byte, etherType uint16) (core.IPHeader, []byte, error) {
	switch etherType {
	case etherTypeIPv4:
		return decodeIPv4(data)
	case etherTypeIPv6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{}, nil, core.ErrUnsupported
	}
}

func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	ip := core.IPHeader{}
	if len(data) < ipv4HeaderMinLen {
		return ip, nil, core.ErrTruncated
	}
	if data[0]>>4 != 4 {
		return ip, nil, core.ErrUnsupported
	}

	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return ip, nil, core.ErrUnsupported
	}
	if len(data) < headerLen {
		return ip, nil, core.ErrTruncated
	}

	ip.Version = 4
	ip.TotalLen = binary.BigEndian.Uint16(data[2:4])
	ip.TTL = data[8]
	ip.Protocol = data[9]
	ip.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	ip.DstIP = netip.AddrFrom4([4]byte(data[16:20]))

	// non-first fragments carry no transport header
	if binary.BigEndian.Uint16(data[6:8])&0x1FFF != 0 {
		ip.Fragment = true
	}
	return ip, data[headerLen:], nil
}

func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	ip := core.IPHeader{}
	if len(data) < ipv6HeaderLen {
		return ip, nil, core.ErrTruncated
	}
	if data[0]>>4 != 6 {
		return ip, nil, core.ErrUnsupported
	}

	ip.Version = 6
	ip.TotalLen = ipv6HeaderLen + binary.BigEndian.Uint16(data[4:6])
	ip.TTL = data[7]
	ip.SrcIP = netip.AddrFrom16([16]byte(data[8:24]))
	ip.DstIP = netip.AddrFrom16([16]byte(data[24:40]))

	next := data[6]
	rest := data[ipv6HeaderLen:]
	for n := 0; isIPv6Ext(next); n++ {
		if n == maxIPv6ExtHeaders {
			return ip, nil, core.ErrUnsupported
		}
		if len(rest) < 8 {
			return ip, nil, core.ErrTruncated
		}
		extLen := 8
		if next == protoFragment {
			if binary.BigEndian.Uint16(rest[2:4])&0xFFF8 != 0 {
				ip.Fragment = true
			}
		} else {
			extLen = (int(rest[1]) + 1) * 8
		}
		if len(rest) < extLen {
			return ip, nil, core.ErrTruncated
		}
		next = rest[0]
		rest = rest[extLen:]
	}

	ip.Protocol = next
	return ip, rest, nil
}

func isIPv6Ext(next uint8) bool {
	switch next {
	case protoHopByHop, protoRouting, protoFragment, protoDestOpts:
		return true
	}
	return false
}
