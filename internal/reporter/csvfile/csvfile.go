// Package csvfile writes feature vectors to rotated CSV files.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/encode"
)

// Name is the registered reporter type.
const Name = "csv"

// Config represents csv reporter configuration.
type Config struct {
	Path       string `mapstructure:"path"` // required
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Header     bool   `mapstructure:"header"` // default true
}

// fixedColumns precede the features in every row.
var fixedColumns = []string{
	"timestamp", "src_ip", "dst_ip", "src_port", "dst_port",
	"protocol", "length", "flow_hash", "overflow",
}

// Reporter appends one row per vector. Rotated files start with a fresh
// header only when the reporter is restarted.
type Reporter struct {
	config Config
	names  []string

	mu  sync.Mutex
	out io.WriteCloser
	w   *csv.Writer
	row []string

	reportedCount atomic.Uint64
}

// New creates a new csv reporter.
func New() reporter.Reporter {
	return &Reporter{
		config: Config{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
			Header:     true,
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
	if r.config.Path == "" {
		return fmt.Errorf("%w: csv reporter requires path", core.ErrConfigInvalid)
	}
	if r.config.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: max_size_mb must be positive", core.ErrConfigInvalid)
	}
	return nil
}

// SetFeatureNames implements reporter.FeatureNamesAware.
func (r *Reporter) SetFeatureNames(names []string) {
	r.names = names
}

// Start opens the file and writes the header.
func (r *Reporter) Start(ctx context.Context) error {
	return r.open(&lumberjack.Logger{
		Filename:   r.config.Path,
		MaxSize:    r.config.MaxSizeMB,
		MaxBackups: r.config.MaxBackups,
		MaxAge:     r.config.MaxAgeDays,
		Compress:   r.config.Compress,
	})
}

func (r *Reporter) open(out io.WriteCloser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
	r.w = csv.NewWriter(out)
	if r.config.Header {
		if err := r.w.Write(r.header()); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	slog.Info("csv reporter started", "path", r.config.Path, "features", len(r.names))
	return nil
}

func (r *Reporter) header() []string {
	h := append([]string(nil), fixedColumns...)
	return append(h, r.names...)
}

// Stop flushes and closes the file.
func (r *Reporter) Stop(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return nil
	}
	err := r.out.Close()
	r.out, r.w = nil, nil
	slog.Info("csv reporter stopped", "path", r.config.Path, "total_reported", r.reportedCount.Load())
	return err
}

// Report appends vec as a row.
func (r *Reporter) Report(ctx context.Context, vec *core.FeatureVector) error {
	if vec == nil {
		return fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("csv reporter not started")
	}
	r.row = appendRow(r.row[:0], vec)
	if err := r.w.Write(r.row); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

func appendRow(row []string, vec *core.FeatureVector) []string {
	row = append(row,
		vec.Timestamp.UTC().Format(encode.TimeLayout),
		vec.SrcIP.String(),
		vec.DstIP.String(),
		strconv.FormatUint(uint64(vec.SrcPort), 10),
		strconv.FormatUint(uint64(vec.DstPort), 10),
		strconv.FormatUint(uint64(vec.Protocol), 10),
		strconv.FormatUint(uint64(vec.Length), 10),
		strconv.FormatInt(int64(vec.FlowHash), 10),
		strconv.FormatBool(vec.Overflow),
	)
	for _, v := range encode.Finite(vec.Values) {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return row
}

// Flush writes buffered rows to the file.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	r.w.Flush()
	return r.w.Error()
}
