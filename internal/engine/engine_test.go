package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decay"
	"firestige.xyz/festats/internal/core/flowhash"
	"firestige.xyz/festats/internal/netstat"
	"firestige.xyz/festats/internal/reporter"
)

// ─── fakes ───

type sliceSource struct {
	frames  [][]byte
	start   time.Time
	next    int
	read    atomic.Uint64
	started atomic.Bool
	stopped atomic.Bool
	// block makes Read wait for cancellation once frames run out
	block bool
	ctx   context.Context
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Start(ctx context.Context) error {
	s.ctx = ctx
	s.started.Store(true)
	return nil
}

func (s *sliceSource) Read() (core.RawPacket, error) {
	if s.next >= len(s.frames) {
		if s.block {
			<-s.ctx.Done()
			return core.RawPacket{}, s.ctx.Err()
		}
		return core.RawPacket{}, io.EOF
	}
	data := s.frames[s.next]
	ts := s.start.Add(time.Duration(s.next) * time.Millisecond)
	s.next++
	s.read.Add(1)
	// hand out a scratch copy that is clobbered on the next read
	buf := make([]byte, len(data))
	copy(buf, data)
	return core.RawPacket{Data: buf, Timestamp: ts, CaptureLen: uint32(len(buf)), OrigLen: uint32(len(buf))}, nil
}

func (s *sliceSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *sliceSource) Stats() core.CaptureStats {
	return core.CaptureStats{Received: s.read.Load()}
}

type collectReporter struct {
	mu      sync.Mutex
	vecs    []core.FeatureVector
	fail    bool
	started bool
	flushed bool
	stopped bool
}

func (r *collectReporter) Name() string                { return "collect" }
func (r *collectReporter) Init(map[string]any) error   { return nil }
func (r *collectReporter) Start(context.Context) error { r.started = true; return nil }
func (r *collectReporter) Stop(context.Context) error  { r.stopped = true; return nil }
func (r *collectReporter) Flush(context.Context) error { r.flushed = true; return nil }
func (r *collectReporter) Report(_ context.Context, v *core.FeatureVector) error {
	if r.fail {
		return errors.New("sink unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vecs = append(r.vecs, *v)
	return nil
}

// ─── helpers ───

func udpFrame(tb testing.TB, src, dst net.IP, sport, dport uint16, payload int) []byte {
	tb.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, udp, gopacket.Payload(make([]byte, payload)))
	require.NoError(tb, err)
	return buf.Bytes()
}

func newExtractor(tb testing.TB) *netstat.Extractor {
	tb.Helper()
	x, err := netstat.New(netstat.Config{
		Lambdas:          decay.DefaultLambdas,
		MeasurementScale: 0.001,
		MaxEntries:       10000,
	})
	require.NoError(tb, err)
	return x
}

func conversation(tb testing.TB, n int) [][]byte {
	a, b := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			frames = append(frames, udpFrame(tb, a, b, 40000, 53, 20+i))
		} else {
			frames = append(frames, udpFrame(tb, b, a, 53, 40000, 60))
		}
	}
	return frames
}

// ─── tests ───

func TestNewRequiresSourceAndExtractor(t *testing.T) {
	_, err := New(Config{Extractor: newExtractor(t)})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(Config{Source: &sliceSource{}})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestRunProcessesPcapToEOF(t *testing.T) {
	frames := conversation(t, 40)
	// one garbage frame in the middle
	frames = append(frames[:10], append([][]byte{{0x01, 0x02, 0x03}}, frames[10:]...)...)

	src := &sliceSource{frames: frames, start: time.Unix(1_700_000_000, 0)}
	rep := &collectReporter{}
	e, err := New(Config{
		Source:    src,
		Extractor: newExtractor(t),
		Reporters: []reporter.Reporter{rep},
		Workers:   4,
		Blocking:  true,
		Labels:    core.Labels{"site": "lab"},
	})
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background()))

	s := e.Stats()
	assert.Equal(t, uint64(41), s.Captured)
	assert.Equal(t, uint64(40), s.Parsed)
	assert.Equal(t, uint64(1), s.ParseErrors)
	assert.Equal(t, uint64(1), s.Decoder.Truncated)
	assert.Equal(t, uint64(40), s.Processed)
	assert.Equal(t, uint64(40), s.Reported)
	assert.Zero(t, s.Dropped)
	assert.Equal(t, uint64(41), s.Source.Received)

	assert.True(t, src.started.Load())
	assert.True(t, src.stopped.Load())
	assert.True(t, rep.started)
	assert.True(t, rep.flushed)
	assert.True(t, rep.stopped)

	require.Len(t, rep.vecs, 40)
	for _, v := range rep.vecs {
		assert.Len(t, v.Values, netstat.NumFeatures)
		assert.Equal(t, e.RunID(), v.RunID)
		assert.Equal(t, e.RunID(), v.Labels[core.LabelRunID])
		assert.Equal(t, "slice", v.Labels[core.LabelSource])
		assert.Equal(t, "lab", v.Labels["site"])
		assert.Contains(t, v.Labels[core.LabelWorker], "worker-")
		assert.Equal(t, uint8(17), v.Protocol)
		assert.NotZero(t, v.Length)
		assert.False(t, v.Timestamp.IsZero())
	}
}

// splitWorkerCount returns a flow-hash worker count that puts the two ends
// of frames on different workers.
func splitWorkerCount(t *testing.T, frames [][]byte) int {
	t.Helper()
	e, err := New(Config{Source: &sliceSource{}, Extractor: newExtractor(t), Workers: 1})
	require.NoError(t, err)
	a, ok := e.parse(core.RawPacket{Data: frames[0]})
	require.True(t, ok)
	b, ok := e.parse(core.RawPacket{Data: frames[1]})
	require.True(t, ok)

	for n := 2; n <= 32; n++ {
		d := NewFlowHashDispatcher(n)
		if d.Dispatch(a.keys.SrcIP) != d.Dispatch(b.keys.SrcIP) {
			return n
		}
	}
	t.Fatal("no worker count separates the two hosts")
	return 0
}

func TestFlowHashKeepsSenderOnOneWorker(t *testing.T) {
	frames := conversation(t, 2000)
	x := newExtractor(t)
	src := &sliceSource{frames: frames, start: time.Unix(1_700_000_000, 0)}
	rep := &collectReporter{}
	e, err := New(Config{
		Source:    src,
		Extractor: x,
		Reporters: []reporter.Reporter{rep},
		Workers:   splitWorkerCount(t, frames),
		Dispatch:  DispatchFlowHash,
		Blocking:  true,
	})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	workers := map[string]map[string]bool{}
	used := map[string]bool{}
	for _, v := range rep.vecs {
		src := v.SrcIP.String()
		if workers[src] == nil {
			workers[src] = map[string]bool{}
		}
		workers[src][v.Labels[core.LabelWorker]] = true
		used[v.Labels[core.LabelWorker]] = true
	}
	require.Len(t, workers, 2)
	for host, ws := range workers {
		assert.Len(t, ws, 1, "sender %s spread over workers", host)
	}
	require.Len(t, used, 2, "both hosts on one worker")

	// the pair streams shared by both workers still advance in capture order
	assert.Zero(t, x.Stats().Regressions)
	assert.Zero(t, e.Stats().ProcessErrors)
	assert.Equal(t, uint64(len(frames)), e.Stats().Processed)
}

func TestRoundRobinKeepsCaptureOrder(t *testing.T) {
	frames := conversation(t, 2000)
	x := newExtractor(t)
	src := &sliceSource{frames: frames, start: time.Unix(1_700_000_000, 0)}
	e, err := New(Config{
		Source:    src,
		Extractor: x,
		Reporters: []reporter.Reporter{&collectReporter{}},
		Workers:   4,
		Dispatch:  DispatchRoundRobin,
		Blocking:  true,
	})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, uint64(len(frames)), e.Stats().Processed)
	assert.Zero(t, x.Stats().Regressions)
	assert.Zero(t, e.Stats().ProcessErrors)
}

func TestMultiWorkerMatchesSingleWorker(t *testing.T) {
	frames := conversation(t, 500)
	run := func(workers int) map[int64][]float64 {
		rep := &collectReporter{}
		e, err := New(Config{
			Source:    &sliceSource{frames: frames, start: time.Unix(1_700_000_000, 0)},
			Extractor: newExtractor(t),
			Reporters: []reporter.Reporter{rep},
			Workers:   workers,
			Blocking:  true,
		})
		require.NoError(t, err)
		require.NoError(t, e.Run(context.Background()))
		out := make(map[int64][]float64, len(rep.vecs))
		for _, v := range rep.vecs {
			out[v.Timestamp.UnixNano()] = v.Values
		}
		return out
	}

	want := run(1)
	got := run(splitWorkerCount(t, frames))
	require.Len(t, got, len(want))
	for ts, f := range want {
		assert.Equal(t, f, got[ts], "vector at %d", ts)
	}
}

func TestRunWhileRunning(t *testing.T) {
	src := &sliceSource{frames: conversation(t, 4), start: time.Unix(1_700_000_000, 0), block: true}
	e, err := New(Config{Source: src, Extractor: newExtractor(t), Workers: 1, Blocking: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return e.Stats().Processed == 4 }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.Run(context.Background()), core.ErrEngineRunning)

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrEngineStopped)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &sliceSource{frames: conversation(t, 10), start: time.Unix(1_700_000_000, 0), block: true}
	rep := &collectReporter{}
	e, err := New(Config{Source: src, Extractor: newExtractor(t), Reporters: []reporter.Reporter{rep}, Workers: 2, Blocking: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Stats().Reported == 10 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.True(t, rep.stopped)
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrEngineStopped)
}

func TestReporterErrorsAreCounted(t *testing.T) {
	src := &sliceSource{frames: conversation(t, 5), start: time.Unix(1_700_000_000, 0)}
	bad := &collectReporter{fail: true}
	e, err := New(Config{Source: src, Extractor: newExtractor(t), Reporters: []reporter.Reporter{bad}, Workers: 1, Blocking: true})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	s := e.Stats()
	assert.Equal(t, uint64(5), s.Processed)
	assert.Equal(t, uint64(5), s.ReportErrors)
	assert.Zero(t, s.Reported)
}

type readErrSource struct{ sliceSource }

func (s *readErrSource) Read() (core.RawPacket, error) {
	return core.RawPacket{}, errors.New("ring broken")
}

func TestRunReturnsReadErrors(t *testing.T) {
	e, err := New(Config{Source: &readErrSource{}, Extractor: newExtractor(t), Workers: 1})
	require.NoError(t, err)
	assert.ErrorContains(t, e.Run(context.Background()), "ring broken")
}

func TestTimestampNanos(t *testing.T) {
	assert.Equal(t, uint64(1), timestampNanos(time.Time{}))
	assert.Equal(t, uint64(1), timestampNanos(time.Unix(0, 0)))
	assert.Equal(t, uint64(1_500_000_000), timestampNanos(time.Unix(1, 500_000_000)))
}

type countingExtractor struct{ n atomic.Uint64 }

func (c *countingExtractor) Process(uint64, uint32, flowhash.Keys) (core.FeatureVector, error) {
	c.n.Add(1)
	return core.FeatureVector{Overflow: true}, core.ErrTableFull
}

func TestPartialVectorsAreStillReported(t *testing.T) {
	src := &sliceSource{frames: conversation(t, 3), start: time.Unix(1_700_000_000, 0)}
	rep := &collectReporter{}
	x := &countingExtractor{}
	e, err := New(Config{Source: src, Extractor: x, Reporters: []reporter.Reporter{rep}, Workers: 1, Blocking: true})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, uint64(3), x.n.Load())
	s := e.Stats()
	assert.Equal(t, uint64(3), s.ProcessErrors)
	assert.Equal(t, uint64(3), s.Overflows)
	assert.Len(t, rep.vecs, 3)
}

func BenchmarkEngineRun(b *testing.B) {
	frames := conversation(b, 1000)
	for i := 0; i < b.N; i++ {
		e, err := New(Config{
			Source:    &sliceSource{frames: frames, start: time.Unix(1_700_000_000, 0)},
			Extractor: newExtractor(b),
			Workers:   4,
			Blocking:  true,
		})
		require.NoError(b, err)
		require.NoError(b, e.Run(context.Background()))
	}
}
