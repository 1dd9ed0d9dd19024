//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/source/bpffilter"
)

// statsEvery is how many frames pass between socket statistics reads.
const statsEvery = 1 << 14

// Source reads frames from a TPACKET_V3 ring.
//
// The handle is owned by the reader: Stop must not be called while a Read
// is in progress, since closing unmaps the ring Read points into.
type Source struct {
	config Config
	layout ring
	handle *afpacket.TPacket
	ctx    context.Context

	sinceStats int
	received   atomic.Uint64
	ifDropped  atomic.Uint64
}

// New validates cfg and sizes the ring. The socket is opened by Start.
func New(cfg Config) (*Source, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	layout, err := ringLayout(cfg.SnapLen, cfg.BlockSizeMB<<20, cfg.NumBlocks, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	return &Source{config: cfg, layout: layout}, nil
}

// Name returns the source type.
func (s *Source) Name() string {
	return Name
}

// Start opens the ring, joins the fanout group and attaches the filter.
func (s *Source) Start(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.config.Interface),
		afpacket.OptFrameSize(s.layout.FrameSize),
		afpacket.OptBlockSize(s.layout.BlockSize),
		afpacket.OptNumBlocks(s.layout.NumBlocks),
		afpacket.OptPollTimeout(s.config.PollTimeout),
		afpacket.OptBlockTimeout(s.config.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("create TPacket on %s: %w", s.config.Interface, err)
	}

	if err := s.configure(handle); err != nil {
		handle.Close()
		return err
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "interface", s.config.Interface, "error", err)
	}

	s.handle = handle
	s.ctx = ctx
	slog.Info("afpacket source started",
		"interface", s.config.Interface,
		"frame_size", s.layout.FrameSize,
		"block_size", s.layout.BlockSize,
		"num_blocks", s.layout.NumBlocks,
		"fanout_group", s.config.FanoutGroup,
		"fanout_mode", s.config.FanoutMode,
		"bpf_filter", s.config.BPFFilter)
	return nil
}

func (s *Source) configure(handle *afpacket.TPacket) error {
	if s.config.FanoutGroup > 0 {
		if err := handle.SetFanout(fanoutType(s.config.FanoutMode), uint16(s.config.FanoutGroup)); err != nil {
			return fmt.Errorf("join fanout group %d: %w", s.config.FanoutGroup, err)
		}
	}
	if s.config.BPFFilter != "" {
		insns, err := bpffilter.Compile(s.config.BPFFilter, s.config.SnapLen)
		if err != nil {
			return err
		}
		if err := handle.SetBPF(insns); err != nil {
			return fmt.Errorf("attach BPF filter: %w", err)
		}
	}
	return nil
}

// fanoutType maps a mode name to PACKET_FANOUT_*. gopacket only names the
// hash modes, the others come from x/sys.
func fanoutType(mode string) afpacket.FanoutType {
	switch mode {
	case "lb":
		return afpacket.FanoutType(unix.PACKET_FANOUT_LB)
	case "cpu":
		return afpacket.FanoutType(unix.PACKET_FANOUT_CPU)
	default:
		// fragments of one datagram must reach the same socket
		return afpacket.FanoutHashWithDefrag
	}
}

// Read blocks until a frame arrives or the context is cancelled. Poll
// timeouts are retried.
func (s *Source) Read() (core.RawPacket, error) {
	if s.handle == nil {
		return core.RawPacket{}, fmt.Errorf("afpacket source not started")
	}
	for {
		if err := s.ctx.Err(); err != nil {
			return core.RawPacket{}, err
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, unix.EINTR) {
				s.refreshStats()
				continue
			}
			if s.ctx.Err() != nil {
				return core.RawPacket{}, s.ctx.Err()
			}
			return core.RawPacket{}, fmt.Errorf("read from %s: %w", s.config.Interface, err)
		}

		s.received.Add(1)
		if s.sinceStats++; s.sinceStats >= statsEvery {
			s.refreshStats()
		}
		return core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// refreshStats runs on the reading goroutine; the handle is not safe for
// concurrent use.
func (s *Source) refreshStats() {
	s.sinceStats = 0
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return
	}
	s.ifDropped.Store(uint64(v3.Drops()))
}

// Stop closes the ring.
func (s *Source) Stop() error {
	if s.handle == nil {
		return nil
	}
	s.refreshStats()
	s.handle.Close()
	s.handle = nil
	slog.Info("afpacket source stopped",
		"interface", s.config.Interface,
		"received", s.received.Load(),
		"if_dropped", s.ifDropped.Load())
	return nil
}

// Stats returns ring statistics as of the last refresh.
func (s *Source) Stats() core.CaptureStats {
	return core.CaptureStats{
		Received:  s.received.Load(),
		IfDropped: s.ifDropped.Load(),
	}
}
