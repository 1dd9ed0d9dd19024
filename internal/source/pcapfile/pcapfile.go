// Package pcapfile replays a capture file as a packet source.
package pcapfile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/source/bpffilter"
)

// Name is the registered source type.
const Name = "pcap"

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Config represents pcap file source configuration.
type Config struct {
	Path      string // required
	BPFFilter string // optional, evaluated in user space
	SnapLen   int
}

// packetReader is implemented by *pcapgo.Reader and *pcapgo.NgReader.
type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads frames from a classic pcap or pcapng file.
type Source struct {
	config  Config
	file    io.Closer
	reader  packetReader
	matcher *bpffilter.Matcher
	ctx     context.Context

	received atomic.Uint64
	filtered atomic.Uint64
}

// New creates a source for cfg.Path. The file is opened by Start.
func New(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: pcap source requires a path", core.ErrConfigInvalid)
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	s := &Source{config: cfg}
	if cfg.BPFFilter != "" {
		m, err := bpffilter.NewMatcher(cfg.BPFFilter, cfg.SnapLen)
		if err != nil {
			return nil, err
		}
		s.matcher = m
	}
	return s, nil
}

// Name returns the source type.
func (s *Source) Name() string {
	return Name
}

// Start opens the file and checks its link type.
func (s *Source) Start(ctx context.Context) error {
	f, err := os.Open(s.config.Path)
	if err != nil {
		return fmt.Errorf("open pcap file %s: %w", s.config.Path, err)
	}
	if err := s.open(ctx, f); err != nil {
		f.Close()
		return err
	}
	slog.Info("pcap source started",
		"path", s.config.Path,
		"link_type", s.reader.LinkType().String(),
		"bpf_filter", s.config.BPFFilter)
	return nil
}

// open wraps rc. rc is closed by Stop.
func (s *Source) open(ctx context.Context, rc io.ReadCloser) error {
	br := bufio.NewReaderSize(rc, 1<<20)
	magic, err := br.Peek(4)
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		return fmt.Errorf("%w: link type %s, only Ethernet captures are read", core.ErrUnsupported, lt)
	}
	s.reader = r
	s.file = rc
	s.ctx = ctx
	return nil
}

// Read returns the next frame accepted by the filter, or io.EOF.
func (s *Source) Read() (core.RawPacket, error) {
	if s.reader == nil {
		return core.RawPacket{}, fmt.Errorf("pcap source not started")
	}
	for {
		if err := s.ctx.Err(); err != nil {
			return core.RawPacket{}, err
		}
		data, ci, err := s.reader.ZeroCopyReadPacketData()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return core.RawPacket{}, io.EOF
			}
			return core.RawPacket{}, fmt.Errorf("read packet: %w", err)
		}
		if s.matcher != nil && !s.matcher.Match(data) {
			s.filtered.Add(1)
			continue
		}
		s.received.Add(1)
		return core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// Stop closes the file.
func (s *Source) Stop() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	slog.Info("pcap source stopped",
		"path", s.config.Path,
		"received", s.received.Load(),
		"filtered", s.filtered.Load())
	return err
}

// Stats returns read statistics. Files never drop.
func (s *Source) Stats() core.CaptureStats {
	return core.CaptureStats{Received: s.received.Load()}
}
