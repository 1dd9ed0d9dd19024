package decoder

import (
	"encoding/binary"

	"firestige.xyz/festats/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

func isVLAN(etherType uint16) bool {
	return etherType == etherTypeVLAN || etherType == etherTypeQinQ
}

// decodeEthernet decodes the Ethernet II header and up to core.MaxVLANs tags.
// Returns the header and the remaining bytes.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	eth := core.EthernetHeader{}
	if len(data) < ethernetHeaderLen {
		return eth, nil, core.ErrTruncated
	}

	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	for isVLAN(etherType) {
		if eth.NumVLANs == core.MaxVLANs {
			return eth, nil, core.ErrUnsupported
		}
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrTruncated
		}
		// TCI: PCP(3) DEI(1) VID(12)
		eth.VLANs[eth.NumVLANs] = binary.BigEndian.Uint16(data[offset:offset+2]) & 0x0FFF
		eth.NumVLANs++
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	return eth, data[offset:], nil
}
