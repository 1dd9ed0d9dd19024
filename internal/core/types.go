// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// MaxVLANs bounds the number of stacked 802.1Q/802.1ad tags the decoder walks.
const MaxVLANs = 2

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16           // 0x0800=IPv4, 0x86DD=IPv6 after VLAN tags are stripped
	VLANs     [MaxVLANs]uint16 // fixed array so decoding never allocates
	NumVLANs  uint8
}

// VLANIDs returns the populated part of VLANs.
func (e *EthernetHeader) VLANIDs() []uint16 {
	return e.VLANs[:e.NumVLANs]
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr // Go stdlib value type, zero allocation
	DstIP    netip.Addr
	Protocol uint8 // upper-layer protocol after IPv6 extension headers
	TTL      uint8
	TotalLen uint16
	// Fragment is set for non-first fragments; their transport header is absent.
	Fragment bool
}

// TransportHeader represents L4 transport layer header.
// Ports are zero for ICMP, ICMPv6 and non-first fragments.
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	TCPFlags uint8
	// ICMP type/code, only populated for ICMP and ICMPv6
	ICMPType uint8
	ICMPCode uint8
}
