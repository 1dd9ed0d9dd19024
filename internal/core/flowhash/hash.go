// Package flowhash derives flow keys from decoded packets.
//
// Addresses are hashed at several wildcard levels so one parse answers
// lookups at host, subnet and "any address" granularity. All hashing is
// fixed-width integer arithmetic over little-endian words; results are
// identical across runs and platforms.
package flowhash

import "encoding/binary"

const (
	// Seed is the fixed hash seed.
	Seed uint64 = 0x2d31e867

	fhMul uint64 = 0x880355f21e6d1965
)

func fhMix(h uint64) uint64 {
	h ^= h >> 23
	h *= 0x2127599bf4325c37
	h ^= h >> 47
	return h
}

// Hash64 is fasthash64 of b under Seed.
func Hash64(b []byte) uint64 {
	h := Seed ^ (uint64(len(b)) * fhMul)
	for len(b) >= 8 {
		h ^= fhMix(binary.LittleEndian.Uint64(b))
		h *= fhMul
		b = b[8:]
	}
	if len(b) > 0 {
		var v uint64
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		h ^= fhMix(v)
		h *= fhMul
	}
	return fhMix(h)
}

// Fold32 reduces a 64-bit hash to 32 bits.
func Fold32(h uint64) uint32 {
	return uint32(h - h>>32)
}

// Mix combines two hashes; the result depends on argument order.
func Mix(a, b uint64) uint64 {
	return a ^ (b + 0x9e3779b97f4a7c15 + a<<6 + a>>2)
}

// Chain mixes hs in order into a zero seed.
func Chain(hs ...uint64) uint64 {
	var h uint64
	for _, v := range hs {
		h = Mix(h, v)
	}
	return h
}

func hashPort(p uint16) uint64 {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], p)
	return Hash64(b[:])
}
