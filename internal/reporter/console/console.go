// Package console implements a console debug reporter.
// Outputs feature vectors to stdout in human-readable format for debugging.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/encode"
)

// Name is the registered reporter type.
const Name = "console"

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
	// MaxValues limits the features printed per line in text format;
	// 0 prints all of them.
	MaxValues int `mapstructure:"max_values"`
}

// Reporter outputs vectors to the console.
type Reporter struct {
	config Config
	names  []string

	mu  sync.Mutex
	out *bufio.Writer

	reportedCount atomic.Uint64
}

// New creates a new console reporter.
func New() reporter.Reporter {
	return newReporter(os.Stdout)
}

func newReporter(w io.Writer) *Reporter {
	return &Reporter{
		config: Config{Format: "text"},
		out:    bufio.NewWriter(w),
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
	if r.config.Format != "json" && r.config.Format != "text" {
		return fmt.Errorf("%w: invalid format %q, must be json or text", core.ErrConfigInvalid, r.config.Format)
	}
	if r.config.MaxValues < 0 {
		return fmt.Errorf("%w: max_values must be >= 0", core.ErrConfigInvalid)
	}
	return nil
}

// SetFeatureNames implements reporter.FeatureNamesAware.
func (r *Reporter) SetFeatureNames(names []string) {
	r.names = names
}

// Start starts the reporter.
func (r *Reporter) Start(ctx context.Context) error {
	slog.Info("console reporter started", "format", r.config.Format)
	return nil
}

// Stop stops the reporter.
func (r *Reporter) Stop(ctx context.Context) error {
	err := r.Flush(ctx)
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return err
}

// Report outputs a vector to console.
func (r *Reporter) Report(ctx context.Context, vec *core.FeatureVector) error {
	if vec == nil {
		return fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}

	var line []byte
	if r.config.Format == "json" {
		b, err := encode.MarshalJSON(vec)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = b
	} else {
		line = r.appendText(nil, vec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(line); err != nil {
		return err
	}
	if err := r.out.WriteByte('\n'); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

// appendText renders vec in human-readable text format.
func (r *Reporter) appendText(b []byte, vec *core.FeatureVector) []byte {
	b = fmt.Appendf(b, "[%s] %s:%d -> %s:%d proto=%d len=%d hash=%08x",
		vec.Timestamp.Format("15:04:05.000000"),
		vec.SrcIP, vec.SrcPort,
		vec.DstIP, vec.DstPort,
		vec.Protocol, vec.Length, uint32(vec.FlowHash))
	if vec.Overflow {
		b = append(b, " overflow"...)
	}

	n := len(vec.Values)
	if r.config.MaxValues > 0 && r.config.MaxValues < n {
		n = r.config.MaxValues
	}
	for i := 0; i < n; i++ {
		b = append(b, ' ')
		if i < len(r.names) {
			b = append(b, r.names[i]...)
		} else {
			b = strconv.AppendInt(b, int64(i), 10)
		}
		b = append(b, '=')
		b = strconv.AppendFloat(b, vec.Values[i], 'g', 6, 64)
	}
	if n < len(vec.Values) {
		b = fmt.Appendf(b, " ...(%d more)", len(vec.Values)-n)
	}
	return b
}

// Flush writes buffered lines to the console.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.Flush()
}
