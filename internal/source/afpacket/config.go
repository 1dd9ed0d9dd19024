// Package afpacket captures live traffic from a Linux AF_PACKET TPACKET_V3 ring.
package afpacket

import (
	"fmt"
	"time"

	"firestige.xyz/festats/internal/core"
)

// Name is the registered source type.
const Name = "afpacket"

const (
	defaultSnapLen     = 65535
	defaultBlockSizeMB = 4
	defaultNumBlocks   = 64
	defaultPollTimeout = 100 * time.Millisecond

	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded up
)

// Config represents afpacket source configuration.
type Config struct {
	Interface   string // required
	BPFFilter   string // optional, attached to the socket
	SnapLen     int
	BlockSizeMB int
	NumBlocks   int
	FanoutGroup int    // 0 = no fanout
	FanoutMode  string // hash | lb | cpu
	PollTimeout time.Duration
}

func (c *Config) applyDefaults() error {
	if c.Interface == "" {
		return fmt.Errorf("%w: afpacket source requires an interface", core.ErrConfigInvalid)
	}
	if c.SnapLen <= 0 {
		c.SnapLen = defaultSnapLen
	}
	if c.BlockSizeMB <= 0 {
		c.BlockSizeMB = defaultBlockSizeMB
	}
	if c.NumBlocks <= 0 {
		c.NumBlocks = defaultNumBlocks
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.FanoutGroup < 0 || c.FanoutGroup > 0xffff {
		return fmt.Errorf("%w: fanout_group must be in [0, 65535], got %d", core.ErrConfigInvalid, c.FanoutGroup)
	}
	switch c.FanoutMode {
	case "", "hash", "lb", "cpu":
	default:
		return fmt.Errorf("%w: unknown fanout mode %q", core.ErrConfigInvalid, c.FanoutMode)
	}
	return nil
}

// ring is the PACKET_MMAP geometry handed to the kernel.
type ring struct {
	FrameSize int
	BlockSize int
	NumBlocks int
}

// ringLayout sizes the ring so that the kernel accepts it:
// frames are TPACKET_ALIGNMENT aligned, blocks are a multiple of both the
// page size and the frame size, and the total stays close to
// blockSize*numBlocks without exceeding it unless one block already does.
func ringLayout(snapLen, blockSize, numBlocks, pageSize int) (ring, error) {
	if snapLen <= 0 {
		return ring{}, fmt.Errorf("%w: snap_len must be positive, got %d", core.ErrConfigInvalid, snapLen)
	}
	if blockSize <= 0 || numBlocks <= 0 {
		return ring{}, fmt.Errorf("%w: block size and block count must be positive", core.ErrConfigInvalid)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ring{}, fmt.Errorf("%w: page size must be a positive multiple of %d, got %d",
			core.ErrConfigInvalid, tpacketAlignment, pageSize)
	}

	frame := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	unit := lcm(pageSize, frame)

	block := blockSize / unit * unit
	if block == 0 {
		block = unit
	}
	n := blockSize * numBlocks / block
	if n < 1 {
		n = 1
	}
	return ring{FrameSize: frame, BlockSize: block, NumBlocks: n}, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
