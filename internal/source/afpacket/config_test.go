package afpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
)

const mib = 1 << 20

func TestRingLayout(t *testing.T) {
	tests := []struct {
		name                    string
		snapLen, block, n, page int
		want                    ring
	}{
		{"full snap", 65535, 4 * mib, 64, 4096, ring{FrameSize: 65600, BlockSize: 4198400, NumBlocks: 63}},
		{"ethernet mtu", 1514, mib, 8, 4096, ring{FrameSize: 1568, BlockSize: 1003520, NumBlocks: 8}},
		{"tiny block rounds up", 128, 1024, 4, 4096, ring{FrameSize: 192, BlockSize: 12288, NumBlocks: 1}},
		{"aligned frame", 76, 64 * 1024, 2, 4096, ring{FrameSize: 128, BlockSize: 65536, NumBlocks: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ringLayout(tt.snapLen, tt.block, tt.n, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.Zero(t, got.FrameSize%tpacketAlignment)
			assert.Zero(t, got.BlockSize%tt.page)
			assert.Zero(t, got.BlockSize%got.FrameSize)
		})
	}
}

func TestRingLayoutInvalid(t *testing.T) {
	for _, args := range [][4]int{
		{0, mib, 1, 4096},
		{1500, 0, 1, 4096},
		{1500, mib, 0, 4096},
		{1500, mib, 1, 0},
		{1500, mib, 1, 4100},
	} {
		_, err := ringLayout(args[0], args[1], args[2], args[3])
		assert.ErrorIs(t, err, core.ErrConfigInvalid, "%v", args)
	}
}

func TestApplyDefaults(t *testing.T) {
	c := Config{Interface: "eth0"}
	require.NoError(t, c.applyDefaults())
	assert.Equal(t, defaultSnapLen, c.SnapLen)
	assert.Equal(t, defaultBlockSizeMB, c.BlockSizeMB)
	assert.Equal(t, defaultNumBlocks, c.NumBlocks)
	assert.Equal(t, defaultPollTimeout, c.PollTimeout)

	for _, bad := range []Config{
		{},
		{Interface: "eth0", FanoutMode: "rollover"},
		{Interface: "eth0", FanoutGroup: 70000},
	} {
		assert.ErrorIs(t, bad.applyDefaults(), core.ErrConfigInvalid)
	}
}

func TestGcdLcm(t *testing.T) {
	assert.Equal(t, 4, gcd(12, 8))
	assert.Equal(t, 24, lcm(12, 8))
	assert.Equal(t, 0, lcm(0, 8))
}
