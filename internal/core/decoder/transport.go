package decoder

import (
	"encoding/binary"

	"firestige.xyz/festats/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	icmpHeaderLen   = 4

	protocolICMP   = 1
	protocolTCP    = 6
	protocolUDP    = 17
	protocolICMPv6 = 58
)

// decodeTransport decodes the TCP, UDP, ICMP or ICMPv6 header.
// Returns the header and the remaining payload.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, []byte, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(data)
	case protocolUDP:
		return decodeUDP(data)
	case protocolICMP, protocolICMPv6:
		return decodeICMP(data, protocol)
	default:
		return core.TransportHeader{Protocol: protocol}, nil, core.ErrUnsupported
	}
}

func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	tp := core.TransportHeader{Protocol: protocolUDP}
	if len(data) < udpHeaderLen {
		return tp, nil, core.ErrTruncated
	}
	tp.SrcPort = binary.BigEndian.Uint16(data[0:2])
	tp.DstPort = binary.BigEndian.Uint16(data[2:4])
	return tp, data[udpHeaderLen:], nil
}

func decodeTCP(data []byte) (core.TransportHeader, []byte, error) {
	tp := core.TransportHeader{Protocol: protocolTCP}
	if len(data) < tcpHeaderMinLen {
		return tp, nil, core.ErrTruncated
	}

	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen {
		return tp, nil, core.ErrUnsupported
	}
	if len(data) < headerLen {
		return tp, nil, core.ErrTruncated
	}

	tp.SrcPort = binary.BigEndian.Uint16(data[0:2])
	tp.DstPort = binary.BigEndian.Uint16(data[2:4])
	// URG ACK PSH RST SYN FIN
	tp.TCPFlags = data[13] & 0x3F
	return tp, data[headerLen:], nil
}

func decodeICMP(data []byte, protocol uint8) (core.TransportHeader, []byte, error) {
	tp := core.TransportHeader{Protocol: protocol}
	if len(data) < icmpHeaderLen {
		return tp, nil, core.ErrTruncated
	}
	tp.ICMPType = data[0]
	tp.ICMPCode = data[1]
	return tp, data[icmpHeaderLen:], nil
}
