// Package netstat turns per-packet keys into feature vectors.
//
// Every packet updates four families of decayed statistics: the sender's
// MAC-IP pair, the sender host together with its covariance against the
// receiver host, the inter-arrival jitter of the host pair, and the sender
// socket together with its covariance against the receiver socket. The
// resulting vector has NumFeatures values in a fixed order, see FeatureNames.
package netstat

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/core/decay"
	fx "firestige.xyz/festats/internal/core/fixedpoint"
	"firestige.xyz/festats/internal/core/flowhash"
	"firestige.xyz/festats/internal/flowtable"
	"firestige.xyz/festats/internal/metrics"
)

// pccFloor is the smallest std product for which pcc is computed.
const pccFloor = 1e-20

// Config configures an Extractor.
type Config struct {
	Lambdas decay.Lambdas
	// MeasurementScale multiplies packet sizes before encoding.
	MeasurementScale float64
	// Resync moves a stream's clock back instead of dropping an
	// observation older than the stream.
	Resync bool

	MaxEntries      int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// Stats counts extractor outcomes.
type Stats struct {
	Packets     uint64                     `json:"packets"`
	Overflows   uint64                     `json:"overflows"`
	Regressions uint64                     `json:"regressions"`
	TableFull   uint64                     `json:"table_full"`
	Tables      map[string]flowtable.Stats `json:"tables"`
}

// Extractor owns the statistic tables. It is safe for concurrent use; each
// key is updated under its entry lock.
type Extractor struct {
	lambdas decay.Lambdas
	scale   float64
	resync  bool

	macIP  *flowtable.Table[decay.IncStat]
	host   *flowtable.Table[decay.IncStat]
	jitter *flowtable.Table[decay.IncStat]
	socket *flowtable.Table[decay.IncStat]

	hostPair   *flowtable.Table[decay.CovStat]
	socketPair *flowtable.Table[decay.CovStat]

	packets     atomic.Uint64
	overflows   atomic.Uint64
	regressions atomic.Uint64
	tableFull   atomic.Uint64
}

// New creates an extractor with empty tables.
func New(cfg Config) (*Extractor, error) {
	if cfg.MeasurementScale <= 0 || math.IsInf(cfg.MeasurementScale, 0) || math.IsNaN(cfg.MeasurementScale) {
		return nil, fmt.Errorf("%w: measurement scale %v", core.ErrConfigInvalid, cfg.MeasurementScale)
	}
	x := &Extractor{
		lambdas: cfg.Lambdas,
		scale:   cfg.MeasurementScale,
		resync:  cfg.Resync,
	}
	x.macIP = newTable[decay.IncStat](cfg, TableMACIP)
	x.host = newTable[decay.IncStat](cfg, TableHost)
	x.jitter = newTable[decay.IncStat](cfg, TableJitter)
	x.socket = newTable[decay.IncStat](cfg, TableSocket)
	x.hostPair = newTable[decay.CovStat](cfg, TableHostPair)
	x.socketPair = newTable[decay.CovStat](cfg, TableSocketPair)
	return x, nil
}

func newTable[T any](cfg Config, name string) *flowtable.Table[T] {
	evictions := metrics.TableEvictionsTotal.WithLabelValues(name)
	return flowtable.New[T](flowtable.Config{
		MaxEntries:      cfg.MaxEntries,
		IdleTimeout:     cfg.IdleTimeout,
		CleanupInterval: cfg.CleanupInterval,
		OnEvict:         func(uint32) { evictions.Inc() },
	})
}

// FeatureNames returns the column names of the vectors this extractor produces.
func (x *Extractor) FeatureNames() []string {
	return FeatureNames(x.lambdas)
}

// update carries the outcome flags of one packet.
type update struct {
	overflow bool
	errs     []error
}

// note classifies err from a table update. It reports whether the
// observation was applied.
func (x *Extractor) note(u *update, table string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, core.ErrOverflow):
		u.overflow = true
		metrics.UpdateErrorsTotal.WithLabelValues(table, metrics.ReasonOverflow).Inc()
		return true
	case errors.Is(err, core.ErrTemporalRegression):
		x.regressions.Add(1)
		metrics.UpdateErrorsTotal.WithLabelValues(table, metrics.ReasonTemporalRegression).Inc()
	case errors.Is(err, core.ErrTableFull):
		x.tableFull.Add(1)
		metrics.UpdateErrorsTotal.WithLabelValues(table, metrics.ReasonTableFull).Inc()
	}
	u.errs = append(u.errs, fmt.Errorf("%s: %w", table, err))
	return false
}

// Process folds one packet of size bytes seen at ts (nanoseconds) into the
// tables and returns its feature vector. The vector is always complete; the
// error joins per-table failures (core.ErrTableFull,
// core.ErrTemporalRegression) whose observations were dropped.
func (x *Extractor) Process(ts uint64, size uint32, keys flowhash.Keys) (core.FeatureVector, error) {
	x.packets.Add(1)

	var u update
	m, err := fx.Encode(float64(size) * x.scale)
	if err != nil {
		u.overflow = true
	}

	values := make([]float64, NumFeatures)

	x.oneD(&u, x.macIP, TableMACIP, keys.SrcMACIP, ts, m, false, values[offMI:offH])

	src := x.oneD(&u, x.host, TableHost, keys.SrcIP, ts, m, false, values[offH:offHH])
	x.twoD(&u, x.hostPair, x.host, TableHostPair, keys.SrcIP, keys.DstIP, ts, m, src, values[offHH:offJit])

	x.oneD(&u, x.jitter, TableJitter, keys.Channel, ts, 0, true, values[offJit:offHp])

	src = x.oneD(&u, x.socket, TableSocket, keys.SrcSocket, ts, m, false, values[offHp:offHpHp])
	x.twoD(&u, x.socketPair, x.socket, TableSocketPair, keys.SrcSocket, keys.DstSocket, ts, m, src, values[offHpHp:])

	if u.overflow {
		x.overflows.Add(1)
	}
	vec := core.FeatureVector{
		Values:   values,
		Overflow: u.overflow,
	}
	return vec, errors.Join(u.errs...)
}

// snapshot is the state of one stream after its update.
type snapshot struct {
	stat decay.IncStat
	ok   bool
}

// apply runs one update, resynchronising on regression when configured.
func (x *Extractor) apply(ts uint64, m fx.Fixed, s *decay.IncStat) error {
	err := x.lambdas.Update(ts, m, s)
	if x.resync && errors.Is(err, core.ErrTemporalRegression) {
		slog.Debug("resync stream clock", "last_update", s.LastUpdate, "ts", ts)
		s.Resync(ts)
		err = x.lambdas.Update(ts, m, s)
	}
	return err
}

func (x *Extractor) applyCov(ts uint64, side decay.Side, r [decay.Windows]fx.Fixed, c *decay.CovStat) error {
	err := x.lambdas.UpdateCov(ts, side, r, c)
	if x.resync && errors.Is(err, core.ErrTemporalRegression) {
		c.LastUpdate = ts
		err = x.lambdas.UpdateCov(ts, side, r, c)
	}
	return err
}

// oneD updates key in tbl and writes weight, mean and std into out.
func (x *Extractor) oneD(u *update, tbl *flowtable.Table[decay.IncStat], name string,
	key uint32, ts uint64, m fx.Fixed, isDiff bool, out []float64) snapshot {
	e, err := tbl.GetOrCreate(key, func() decay.IncStat { return decay.IncStat{IsDiff: isDiff} })
	if !x.note(u, name, err) {
		return snapshot{}
	}

	e.Lock()
	x.note(u, name, x.apply(ts, m, &e.Value))
	s := e.Value
	e.Unlock()

	for i := 0; i < w; i++ {
		win := s.Window(i)
		out[i] = win.Weight
		out[w+i] = win.Mean
		out[2*w+i] = win.Std
	}
	return snapshot{stat: s, ok: true}
}

// pairKey identifies an unordered pair of streams; side tells which end a is.
func pairKey(a, b uint32) (uint32, decay.Side) {
	if a <= b {
		return flowhash.Fold32(uint64(a)<<32 | uint64(b)), decay.SideA
	}
	return flowhash.Fold32(uint64(b)<<32 | uint64(a)), decay.SideB
}

// twoD updates the covariance between the src and dst streams of streams and
// writes radius, magnitude, covariance and pcc into out.
func (x *Extractor) twoD(u *update, pairs *flowtable.Table[decay.CovStat], streams *flowtable.Table[decay.IncStat],
	name string, srcKey, dstKey uint32, ts uint64, m fx.Fixed, src snapshot, out []float64) {
	if !src.ok {
		return
	}

	var dst decay.IncStat
	if srcKey == dstKey {
		dst = src.stat
	} else if e, ok := streams.Get(dstKey); ok {
		e.Lock()
		dst = e.Value
		e.Unlock()
	}

	key, side := pairKey(srcKey, dstKey)
	e, err := pairs.GetOrCreate(key, nil)
	if !x.note(u, name, err) {
		return
	}

	residual, ok := src.stat.Residuals(m)
	if !ok {
		u.overflow = true
	}
	e.Lock()
	x.note(u, name, x.applyCov(ts, side, residual, &e.Value))
	c := e.Value
	e.Unlock()

	for i := 0; i < w; i++ {
		a, b := src.stat.Window(i), dst.Window(i)
		cov := c.Covariance(i)
		out[i] = math.Sqrt(a.Variance + b.Variance)
		out[w+i] = math.Sqrt(a.Mean*a.Mean + b.Mean*b.Mean)
		out[2*w+i] = cov
		if p := a.Std * b.Std; p >= pccFloor {
			out[3*w+i] = cov / p
		}
	}
}

// Stats returns a snapshot of counters and table sizes, refreshing the
// table size gauges.
func (x *Extractor) Stats() Stats {
	tables := map[string]flowtable.Stats{
		TableMACIP:      x.macIP.Stats(),
		TableHost:       x.host.Stats(),
		TableHostPair:   x.hostPair.Stats(),
		TableJitter:     x.jitter.Stats(),
		TableSocket:     x.socket.Stats(),
		TableSocketPair: x.socketPair.Stats(),
	}
	for name, st := range tables {
		metrics.TableEntries.WithLabelValues(name).Set(float64(st.Entries))
	}
	return Stats{
		Packets:     x.packets.Load(),
		Overflows:   x.overflows.Load(),
		Regressions: x.regressions.Load(),
		TableFull:   x.tableFull.Load(),
		Tables:      tables,
	}
}

// Reset drops every key.
func (x *Extractor) Reset() {
	x.macIP.Flush()
	x.host.Flush()
	x.jitter.Flush()
	x.socket.Flush()
	x.hostPair.Flush()
	x.socketPair.Flush()
}
