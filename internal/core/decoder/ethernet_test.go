package decoder

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qinqFrame(tb testing.TB) []byte {
	return serialize(tb,
		ether(layers.EthernetTypeQinQ),
		&layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 20, Priority: 5, Type: layers.EthernetTypeIPv4},
		ipv4(layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 53, DstPort: 33000},
	)
}

func tripleVLANFrame(tb testing.TB) []byte {
	return serialize(tb,
		ether(layers.EthernetTypeDot1Q),
		&layers.Dot1Q{VLANIdentifier: 1, Type: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 2, Type: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 3, Type: layers.EthernetTypeIPv4},
		ipv4(layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 1, DstPort: 2},
	)
}

func TestDecodeEthernetBasic(t *testing.T) {
	eth, rest, err := decodeEthernet(udpFrame(t))
	require.NoError(t, err)
	assert.Equal(t, uint16(etherTypeIPv4), eth.EtherType)
	assert.Empty(t, eth.VLANIDs())
	assert.Equal(t, byte(0x45), rest[0])
}

func TestDecodeEthernetSingleVLAN(t *testing.T) {
	data := serialize(t,
		ether(layers.EthernetTypeDot1Q),
		&layers.Dot1Q{VLANIdentifier: 10, Priority: 3, Type: layers.EthernetTypeIPv6},
		ipv6(layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 1, DstPort: 2},
	)
	eth, _, err := decodeEthernet(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(etherTypeIPv6), eth.EtherType)
	assert.Equal(t, []uint16{10}, eth.VLANIDs())
}

func TestDecodeEthernetQinQ(t *testing.T) {
	pkt, err := Decode(qinqFrame(t))
	require.NoError(t, err)
	assert.Equal(t, []uint16{100, 20}, pkt.Ethernet.VLANIDs())
	assert.Equal(t, uint16(etherTypeIPv4), pkt.Ethernet.EtherType)
	assert.Equal(t, uint16(53), pkt.Transport.SrcPort)
	assert.Equal(t, uint16(14+8+20+8), pkt.HeaderLen)
}

func BenchmarkDecodeEthernet(b *testing.B) {
	data := qinqFrame(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = decodeEthernet(data)
	}
}
