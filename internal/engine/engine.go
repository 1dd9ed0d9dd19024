// Package engine drives packets from a source through the feature
// extractor to the reporters.
//
// A single capture goroutine reads and parses each frame synchronously, so
// zero-copy buffers never outlive the read. The parsed packet is reduced to
// a fixed-size job and dispatched to one of N workers, which run the
// extractor and fan the vector out to every reporter. Extractor updates
// are applied in capture order whatever the worker count; only encoding
// and reporting run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decoder"
	"firestige.xyz/festats/internal/core/flowhash"
	"firestige.xyz/festats/internal/metrics"
	"firestige.xyz/festats/internal/reporter"
)

const defaultQueueCapacity = 1024

// Engine lifecycle states.
const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Config contains engine configuration.
type Config struct {
	Source    Source
	Extractor Extractor
	Reporters []reporter.Reporter
	// Decoder defaults to a decoder.StandardDecoder.
	Decoder decoder.Decoder

	Workers       int    // 0 = GOMAXPROCS
	Dispatch      string // flow-hash | round-robin
	QueueCapacity int    // per worker
	// Blocking makes the capture loop wait for a full worker queue instead
	// of dropping the packet. Offline sources want this.
	Blocking bool

	// Labels are attached to every vector, together with the run id and
	// the worker name.
	Labels core.Labels
}

// job is everything a worker needs from one packet. It holds no reference
// into the capture buffer.
type job struct {
	seq      uint64
	ts       time.Time
	size     uint32
	src, dst netip.Addr
	sport    uint16
	dport    uint16
	proto    uint8
	combined int32
	keys     flowhash.Keys
}

// Engine runs one capture session.
type Engine struct {
	runID      string
	source     Source
	decoder    decoder.Decoder
	extractor  Extractor
	reporters  []reporter.Reporter
	dispatcher Dispatcher
	workers    int
	queueCap   int
	blocking   bool
	labels     []core.Labels // per worker

	counters counters
	state    atomic.Int32
	turns    *turnstile // nil with a single worker
	seq      uint64     // next job sequence; capture goroutine only

	// pre-bound metric children
	mCaptured   prometheus.Counter
	mParsed     prometheus.Counter
	mDropped    prometheus.Counter
	mProcessed  prometheus.Counter
	mTruncated  prometheus.Counter
	mUnsupport  prometheus.Counter
	mParseLat   prometheus.Observer
	mProcessLat prometheus.Observer
}

// New validates cfg and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: engine needs a source", core.ErrConfigInvalid)
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("%w: engine needs an extractor", core.ErrConfigInvalid)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.NewStandardDecoder()
	}

	e := &Engine{
		runID:      uuid.NewString(),
		source:     cfg.Source,
		decoder:    cfg.Decoder,
		extractor:  cfg.Extractor,
		reporters:  cfg.Reporters,
		dispatcher: NewDispatcher(cfg.Dispatch, cfg.Workers),
		workers:    cfg.Workers,
		queueCap:   cfg.QueueCapacity,
		blocking:   cfg.Blocking,

		mCaptured:   metrics.PacketsTotal.WithLabelValues("captured"),
		mParsed:     metrics.PacketsTotal.WithLabelValues("parsed"),
		mDropped:    metrics.PacketsTotal.WithLabelValues("dropped"),
		mProcessed:  metrics.PacketsTotal.WithLabelValues("processed"),
		mTruncated:  metrics.ParseErrorsTotal.WithLabelValues(metrics.ReasonTruncated),
		mUnsupport:  metrics.ParseErrorsTotal.WithLabelValues(metrics.ReasonUnsupported),
		mParseLat:   metrics.ProcessLatencySeconds.WithLabelValues("parse"),
		mProcessLat: metrics.ProcessLatencySeconds.WithLabelValues("process"),
	}

	if cfg.Workers > 1 {
		e.turns = newTurnstile()
	}

	e.labels = make([]core.Labels, cfg.Workers)
	for i := range e.labels {
		l := cfg.Labels.Clone()
		if l == nil {
			l = make(core.Labels, 3)
		}
		l[core.LabelRunID] = e.runID
		l[core.LabelSource] = cfg.Source.Name()
		l[core.LabelWorker] = workerName(i)
		e.labels[i] = l
	}
	return e, nil
}

// RunID identifies this engine's vectors.
func (e *Engine) RunID() string {
	return e.runID
}

// Run starts the source and reporters and processes packets until the
// source is exhausted or ctx is cancelled. Queued packets are always
// drained and reporters flushed and stopped before Run returns. A
// cancelled context is a normal shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		if e.state.Load() == stateRunning {
			return core.ErrEngineRunning
		}
		return core.ErrEngineStopped
	}
	defer e.state.Store(stateStopped)

	// Reporters outlive ctx long enough to take the drained packets.
	reportCtx := context.WithoutCancel(ctx)

	started := make([]reporter.Reporter, 0, len(e.reporters))
	defer func() {
		for _, r := range started {
			if err := r.Flush(reportCtx); err != nil {
				slog.Error("reporter flush failed", "reporter", r.Name(), "error", err)
			}
			if err := r.Stop(reportCtx); err != nil {
				slog.Error("reporter stop failed", "reporter", r.Name(), "error", err)
			}
		}
	}()
	for _, r := range e.reporters {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("start reporter %s: %w", r.Name(), err)
		}
		started = append(started, r)
	}

	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("start source %s: %w", e.source.Name(), err)
	}
	defer func() {
		if err := e.source.Stop(); err != nil {
			slog.Error("source stop failed", "source", e.source.Name(), "error", err)
		}
	}()

	slog.Info("engine starting",
		"run_id", e.runID,
		"source", e.source.Name(),
		"workers", e.workers,
		"dispatch", e.dispatcher.Name(),
		"reporters", len(e.reporters))

	queues := make([]chan job, e.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan job, e.queueCap)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.processLoop(reportCtx, id, queues[id])
		}(i)
	}

	err := e.captureLoop(ctx, queues)

	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	s := e.Stats()
	slog.Info("engine stopped",
		"run_id", e.runID,
		"captured", s.Captured,
		"parsed", s.Parsed,
		"processed", s.Processed,
		"dropped", s.Dropped,
		"reported", s.Reported)
	return err
}

// captureLoop reads, parses and dispatches until EOF or cancellation.
func (e *Engine) captureLoop(ctx context.Context, queues []chan job) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := e.source.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("source exhausted", "source", e.source.Name())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read from %s: %w", e.source.Name(), err)
		}
		e.counters.Captured.Add(1)
		e.mCaptured.Inc()

		j, ok := e.parse(raw)
		if !ok {
			continue
		}

		id := e.dispatcher.Dispatch(j.keys.SrcIP)
		j.seq = e.seq
		if !e.enqueue(ctx, queues[id], j) {
			if ctx.Err() != nil {
				return nil
			}
			e.counters.Dropped.Add(1)
			e.mDropped.Inc()
			continue
		}
		e.seq++
		e.counters.Dispatched.Add(1)
	}
}

// parse decodes raw and computes its keys. Everything it returns is
// copied out of raw.Data.
func (e *Engine) parse(raw core.RawPacket) (job, bool) {
	start := time.Now()
	pkt, err := e.decoder.Decode(raw)
	if err != nil {
		e.counters.ParseErrors.Add(1)
		if errors.Is(err, core.ErrTruncated) {
			e.mTruncated.Inc()
		} else {
			e.mUnsupport.Inc()
		}
		slog.Debug("frame rejected", "error", err, "len", len(raw.Data))
		return job{}, false
	}

	bundle := flowhash.Generate(&pkt)
	j := job{
		ts:       pkt.Timestamp,
		size:     frameSize(&pkt, raw),
		src:      pkt.IP.SrcIP,
		dst:      pkt.IP.DstIP,
		sport:    pkt.Transport.SrcPort,
		dport:    pkt.Transport.DstPort,
		proto:    pkt.IP.Protocol,
		combined: bundle.Combined,
		keys:     flowhash.KeysOf(&pkt, &bundle),
	}
	e.counters.Parsed.Add(1)
	e.mParsed.Inc()
	e.mParseLat.Observe(time.Since(start).Seconds())
	return j, true
}

// frameSize is the wire length of the frame, falling back to what was
// captured.
func frameSize(pkt *core.DecodedPacket, raw core.RawPacket) uint32 {
	switch {
	case pkt.OrigLen != 0:
		return pkt.OrigLen
	case pkt.CaptureLen != 0:
		return pkt.CaptureLen
	}
	return uint32(len(raw.Data))
}

func (e *Engine) enqueue(ctx context.Context, q chan<- job, j job) bool {
	if e.blocking {
		select {
		case q <- j:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case q <- j:
		return true
	default:
		return false
	}
}

// processLoop runs the extractor for one worker until its queue is closed.
func (e *Engine) processLoop(ctx context.Context, id int, q <-chan job) {
	labels := e.labels[id]
	depth := metrics.WorkerQueueDepth.WithLabelValues(workerName(id))
	defer depth.Set(0)

	for j := range q {
		depth.Set(float64(len(q)))
		e.process(ctx, j, labels)
	}
}

// process handles a single packet on a worker.
func (e *Engine) process(ctx context.Context, j job, labels core.Labels) {
	start := time.Now()

	if e.turns != nil {
		e.turns.enter(j.seq)
	}
	vec, err := e.extractor.Process(timestampNanos(j.ts), j.size, j.keys)
	if e.turns != nil {
		e.turns.leave()
	}
	if err != nil {
		// the extractor has counted it; the vector is still complete
		e.counters.ProcessErrors.Add(1)
		slog.Debug("packet partially applied", "src", j.src, "dst", j.dst, "error", err)
	}
	if vec.Overflow {
		e.counters.Overflows.Add(1)
	}
	vec.RunID = e.runID
	vec.Timestamp = j.ts
	vec.SrcIP = j.src
	vec.DstIP = j.dst
	vec.SrcPort = j.sport
	vec.DstPort = j.dport
	vec.Protocol = j.proto
	vec.Length = j.size
	vec.FlowHash = j.combined
	vec.Labels = labels

	e.counters.Processed.Add(1)
	e.mProcessed.Inc()
	e.mProcessLat.Observe(time.Since(start).Seconds())

	ok := true
	for _, r := range e.reporters {
		if err := r.Report(ctx, &vec); err != nil {
			ok = false
			e.counters.ReportErrors.Add(1)
			metrics.ReporterErrorsTotal.WithLabelValues(r.Name(), "report").Inc()
			slog.Error("reporter failed", "reporter", r.Name(), "error", err)
			continue
		}
		metrics.VectorsReportedTotal.WithLabelValues(r.Name()).Inc()
	}
	if ok {
		e.counters.Reported.Add(1)
	}
}

// timestampNanos maps capture time onto the accumulators' clock, where 0
// means "never updated".
func timestampNanos(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns <= 0 {
		return 1
	}
	return uint64(ns)
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	s := Stats{
		RunID:         e.runID,
		Dispatch:      e.dispatcher.Name(),
		Workers:       e.workers,
		Captured:      e.counters.Captured.Load(),
		Parsed:        e.counters.Parsed.Load(),
		ParseErrors:   e.counters.ParseErrors.Load(),
		Dispatched:    e.counters.Dispatched.Load(),
		Dropped:       e.counters.Dropped.Load(),
		Processed:     e.counters.Processed.Load(),
		ProcessErrors: e.counters.ProcessErrors.Load(),
		Overflows:     e.counters.Overflows.Load(),
		Reported:      e.counters.Reported.Load(),
		ReportErrors:  e.counters.ReportErrors.Load(),
		Source:        e.source.Stats(),
	}
	if d, ok := e.decoder.(interface{ Stats() decoder.Stats }); ok {
		s.Decoder = d.Stats()
	}
	return s
}
