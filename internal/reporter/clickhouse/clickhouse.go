// Package clickhouse stores feature vectors in a ClickHouse table.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/encode"
)

// Name is the registered reporter type.
const Name = "clickhouse"

const (
	defaultTable         = "festats_vectors"
	defaultBatchSize     = 10000
	defaultFlushInterval = 5 * time.Second
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// createTableStatement has the table name substituted.
const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp DateTime64(9),
    RunID     String,
    SrcIP     String,
    DstIP     String,
    SrcPort   UInt16,
    DstPort   UInt16,
    Protocol  UInt8,
    Length    UInt32,
    FlowHash  Int32,
    Overflow  Bool,
    Labels    Map(String, String),
    Features  Array(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY (RunID, Timestamp);
`

// Config represents ClickHouse reporter configuration.
type Config struct {
	Addr          []string      `mapstructure:"addr"` // required, host:port
	Database      string        `mapstructure:"database"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Table         string        `mapstructure:"table"`
	CreateTable   bool          `mapstructure:"create_table"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// row is one buffered vector.
type row struct {
	ts       time.Time
	runID    string
	src, dst string
	sport    uint16
	dport    uint16
	proto    uint8
	length   uint32
	hash     int32
	overflow bool
	labels   map[string]string
	features []float64
}

// sender writes a batch of rows.
type sender interface {
	send(ctx context.Context, rows []row) error
	close() error
}

// Reporter buffers vectors and inserts them in batches, when BatchSize rows
// are pending and every FlushInterval.
type Reporter struct {
	config Config
	out    sender

	mu      sync.Mutex
	pending []row

	stop chan struct{}
	wg   sync.WaitGroup

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// New creates a new ClickHouse reporter.
func New() reporter.Reporter {
	return &Reporter{
		config: Config{
			Database:      "default",
			Username:      "default",
			Table:         defaultTable,
			CreateTable:   true,
			BatchSize:     defaultBatchSize,
			FlushInterval: defaultFlushInterval,
		},
	}
}

// Name returns the plugin name.
func (r *Reporter) Name() string {
	return Name
}

// Init initializes the reporter with configuration.
func (r *Reporter) Init(config map[string]any) error {
	if err := reporter.DecodeConfig(config, &r.config); err != nil {
		return err
	}
	if len(r.config.Addr) == 0 {
		return fmt.Errorf("%w: clickhouse reporter requires addr", core.ErrConfigInvalid)
	}
	if !identRe.MatchString(r.config.Table) {
		return fmt.Errorf("%w: invalid table name %q", core.ErrConfigInvalid, r.config.Table)
	}
	if r.config.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", core.ErrConfigInvalid)
	}
	if r.config.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive", core.ErrConfigInvalid)
	}
	r.pending = make([]row, 0, r.config.BatchSize)
	return nil
}

// Start connects, creates the table if asked and starts the flush timer.
func (r *Reporter) Start(ctx context.Context) error {
	if r.out == nil {
		s, err := connect(ctx, r.config)
		if err != nil {
			return err
		}
		r.out = s
	}
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.flushLoop()

	slog.Info("clickhouse reporter started",
		"addr", r.config.Addr,
		"database", r.config.Database,
		"table", r.config.Table,
		"batch_size", r.config.BatchSize)
	return nil
}

func (r *Reporter) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Flush(context.Background()); err != nil {
				slog.Error("clickhouse periodic flush failed", "error", err)
			}
		}
	}
}

// Stop flushes what is pending and closes the connection.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.stop != nil {
		close(r.stop)
		r.wg.Wait()
		r.stop = nil
	}
	err := r.Flush(ctx)
	if r.out != nil {
		if cerr := r.out.close(); err == nil {
			err = cerr
		}
		r.out = nil
	}
	slog.Info("clickhouse reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load())
	return err
}

// Report buffers vec and sends a batch once BatchSize rows are pending.
func (r *Reporter) Report(ctx context.Context, vec *core.FeatureVector) error {
	if vec == nil {
		return fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}
	rw := row{
		ts:       vec.Timestamp,
		runID:    vec.RunID,
		src:      vec.SrcIP.String(),
		dst:      vec.DstIP.String(),
		sport:    vec.SrcPort,
		dport:    vec.DstPort,
		proto:    vec.Protocol,
		length:   vec.Length,
		hash:     vec.FlowHash,
		overflow: vec.Overflow,
		labels:   vec.Labels,
		// vec must not be retained
		features: append([]float64(nil), encode.Finite(vec.Values)...),
	}

	r.mu.Lock()
	r.pending = append(r.pending, rw)
	var batch []row
	if len(r.pending) >= r.config.BatchSize {
		batch = r.takeLocked()
	}
	r.mu.Unlock()

	if batch != nil {
		return r.sendBatch(ctx, batch)
	}
	return nil
}

func (r *Reporter) takeLocked() []row {
	batch := r.pending
	r.pending = make([]row, 0, r.config.BatchSize)
	return batch
}

func (r *Reporter) sendBatch(ctx context.Context, batch []row) error {
	if r.out == nil {
		r.errorCount.Add(uint64(len(batch)))
		return fmt.Errorf("clickhouse reporter not started, %d rows lost", len(batch))
	}
	if err := r.out.send(ctx, batch); err != nil {
		r.errorCount.Add(uint64(len(batch)))
		return fmt.Errorf("insert %d rows: %w", len(batch), err)
	}
	r.reportedCount.Add(uint64(len(batch)))
	return nil
}

// Flush sends every pending row.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.takeLocked()
	r.mu.Unlock()
	return r.sendBatch(ctx, batch)
}

// nativeSender inserts through the clickhouse-go native protocol.
type nativeSender struct {
	conn   driver.Conn
	insert string
}

func connect(ctx context.Context, cfg Config) (*nativeSender, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if cfg.CreateTable {
		if err := conn.Exec(ctx, fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
	}
	return &nativeSender{conn: conn, insert: "INSERT INTO " + cfg.Table}, nil
}

func (s *nativeSender) send(ctx context.Context, rows []row) error {
	batch, err := s.conn.PrepareBatch(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, rw := range rows {
		labels := rw.labels
		if labels == nil {
			labels = map[string]string{}
		}
		if err := batch.Append(
			rw.ts, rw.runID, rw.src, rw.dst, rw.sport, rw.dport,
			rw.proto, rw.length, rw.hash, rw.overflow, labels, rw.features,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("append row: %w", err)
		}
	}
	return batch.Send()
}

func (s *nativeSender) close() error {
	return s.conn.Close()
}
