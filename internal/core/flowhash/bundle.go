package flowhash

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decoder"
)

// Level is an address wildcard level, finest first.
type Level int

const (
	LevelExact    Level = iota // full address
	LevelNetwork               // /24 for IPv4, /48 for IPv6
	LevelWildcard              // any address

	Levels = 3
)

// WildcardHash is the address hash at LevelWildcard, shared by every address.
const WildcardHash uint64 = 0xffffffffffffffff

func (l Level) String() string {
	switch l {
	case LevelExact:
		return "exact"
	case LevelNetwork:
		return "network"
	case LevelWildcard:
		return "wildcard"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// HashBundle holds the address hashes of one packet at every level, the raw
// ports and the combined dispatch hash. Field layout matches the native
// record, see BundleSize.
type HashBundle struct {
	Src      [Levels]uint64
	Dst      [Levels]uint64
	SrcPort  uint64
	DstPort  uint64
	Combined int32
}

// AddressHashes hashes addr at every level.
func AddressHashes(addr netip.Addr) [Levels]uint64 {
	var out [Levels]uint64
	if addr.Is4() {
		a := addr.As4()
		out[LevelExact] = Hash64(a[:])
		a[3] = 0
		out[LevelNetwork] = Hash64(a[:])
	} else {
		a := addr.As16()
		out[LevelExact] = Hash64(a[:])
		out[LevelNetwork] = Hash64(a[:6])
	}
	out[LevelWildcard] = WildcardHash
	return out
}

// Generate computes the bundle for a decoded packet.
func Generate(p *core.DecodedPacket) HashBundle {
	b := HashBundle{
		Src:     AddressHashes(p.IP.SrcIP),
		Dst:     AddressHashes(p.IP.DstIP),
		SrcPort: uint64(p.Transport.SrcPort),
		DstPort: uint64(p.Transport.DstPort),
	}
	b.Combined = b.CombinedAt(LevelExact, LevelExact)
	return b
}

// CombinedAt mixes the source and destination hashes at the given levels
// with both ports. Out-of-range levels are clamped to LevelWildcard.
func (b HashBundle) CombinedAt(src, dst Level) int32 {
	h := Chain(b.Src[clampLevel(src)], b.Dst[clampLevel(dst)],
		hashPort(uint16(b.SrcPort)), hashPort(uint16(b.DstPort)))
	return int32(Fold32(h))
}

func clampLevel(l Level) Level {
	if l < LevelExact || l > LevelWildcard {
		return LevelWildcard
	}
	return l
}

// ParseAndHash decodes one Ethernet frame and hashes it.
func ParseAndHash(data []byte) (HashBundle, error) {
	p, err := decoder.Decode(data)
	if err != nil {
		return HashBundle{}, err
	}
	return Generate(&p), nil
}

// Native record layout:
//
//	offset  0  3 x u64  source address hashes
//	offset 24  3 x u64  destination address hashes
//	offset 48  u64      source port
//	offset 56  u64      destination port
//	offset 64  i32      combined hash
//	offset 68  4 bytes  padding
const (
	BundleSize = 72

	offDst      = 8 * Levels
	offSrcPort  = offDst + 8*Levels
	offDstPort  = offSrcPort + 8
	offCombined = offDstPort + 8
)

// MarshalBinary encodes b in the native record layout.
func (b *HashBundle) MarshalBinary() ([]byte, error) {
	out := make([]byte, BundleSize)
	b.PutRecord(out)
	return out, nil
}

// PutRecord writes b into out, which must hold at least BundleSize bytes.
func (b *HashBundle) PutRecord(out []byte) {
	_ = out[BundleSize-1]
	ne := binary.NativeEndian
	for i := 0; i < Levels; i++ {
		ne.PutUint64(out[8*i:], b.Src[i])
		ne.PutUint64(out[offDst+8*i:], b.Dst[i])
	}
	ne.PutUint64(out[offSrcPort:], b.SrcPort)
	ne.PutUint64(out[offDstPort:], b.DstPort)
	ne.PutUint32(out[offCombined:], uint32(b.Combined))
	clear(out[offCombined+4 : BundleSize])
}

// UnmarshalBinary decodes a native record.
func (b *HashBundle) UnmarshalBinary(in []byte) error {
	if len(in) < BundleSize {
		return fmt.Errorf("%w: hash record needs %d bytes, got %d", core.ErrInvalidArgument, BundleSize, len(in))
	}
	ne := binary.NativeEndian
	for i := 0; i < Levels; i++ {
		b.Src[i] = ne.Uint64(in[8*i:])
		b.Dst[i] = ne.Uint64(in[offDst+8*i:])
	}
	b.SrcPort = ne.Uint64(in[offSrcPort:])
	b.DstPort = ne.Uint64(in[offDstPort:])
	b.Combined = int32(ne.Uint32(in[offCombined:]))
	return nil
}
