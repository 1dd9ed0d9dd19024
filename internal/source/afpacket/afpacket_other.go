//go:build !linux

package afpacket

import (
	"context"
	"fmt"

	"firestige.xyz/festats/internal/core"
)

// Source is unavailable outside Linux.
type Source struct{}

// New always fails: AF_PACKET exists only on Linux.
func New(cfg Config) (*Source, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: afpacket capture requires linux", core.ErrUnsupported)
}

func (s *Source) Name() string                    { return Name }
func (s *Source) Start(ctx context.Context) error { return core.ErrUnsupported }
func (s *Source) Read() (core.RawPacket, error)   { return core.RawPacket{}, core.ErrUnsupported }
func (s *Source) Stop() error                     { return nil }
func (s *Source) Stats() core.CaptureStats        { return core.CaptureStats{} }
