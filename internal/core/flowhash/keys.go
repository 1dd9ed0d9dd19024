package flowhash

import "firestige.xyz/festats/internal/core"

// Keys are the 32-bit table keys of the statistics kept per packet.
type Keys struct {
	SrcMACIP  uint32 // source MAC and IP
	SrcIP     uint32
	DstIP     uint32
	Channel   uint32 // source and destination IP
	SrcSocket uint32 // source IP and port
	DstSocket uint32 // destination IP and port
	Full      uint32 // the combined hash
}

// KeysOf derives the table keys from a decoded packet and its bundle. Each
// key extends the source-host chain, and the destination keys are built
// like the source keys so the reverse direction finds the same entries.
func KeysOf(p *core.DecodedPacket, b *HashBundle) Keys {
	src := b.Src[LevelExact]
	dst := b.Dst[LevelExact]
	host := Chain(src)
	return Keys{
		SrcMACIP:  Fold32(Mix(host, Hash64(p.Ethernet.SrcMAC[:]))),
		SrcIP:     Fold32(host),
		DstIP:     Fold32(Chain(dst)),
		Channel:   Fold32(Mix(host, dst)),
		SrcSocket: Fold32(Mix(host, hashPort(uint16(b.SrcPort)))),
		DstSocket: Fold32(Chain(dst, hashPort(uint16(b.DstPort)))),
		Full:      uint32(b.Combined),
	}
}
