// Package source builds the configured packet source.
package source

import (
	"fmt"

	"firestige.xyz/festats/internal/config"
	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/engine"
	"firestige.xyz/festats/internal/source/afpacket"
	"firestige.xyz/festats/internal/source/pcapfile"
)

// New creates the source selected by cfg.Type.
func New(cfg config.SourceConfig) (engine.Source, error) {
	switch cfg.Type {
	case pcapfile.Name:
		s, err := pcapfile.New(pcapfile.Config{
			Path:      cfg.Path,
			BPFFilter: cfg.BPFFilter,
			SnapLen:   cfg.SnapLen,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case afpacket.Name:
		s, err := afpacket.New(afpacket.Config{
			Interface:   cfg.Interface,
			BPFFilter:   cfg.BPFFilter,
			SnapLen:     cfg.SnapLen,
			BlockSizeMB: cfg.BlockSizeMB,
			NumBlocks:   cfg.NumBlocks,
			FanoutGroup: cfg.FanoutGroup,
			FanoutMode:  cfg.FanoutMode,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrSourceNotFound, cfg.Type)
	}
}

// Offline reports whether the source replays recorded traffic. Offline
// sources are read as fast as the workers allow, so the engine blocks
// instead of dropping.
func Offline(cfg config.SourceConfig) bool {
	return cfg.Type == pcapfile.Name
}
