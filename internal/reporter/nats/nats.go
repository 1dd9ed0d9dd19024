// Package nats publishes feature vectors to a NATS subject.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/encode"
)

// Name is the registered reporter type.
const Name = "nats"

const (
	defaultURL          = nats.DefaultURL
	defaultFlushTimeout = 5 * time.Second
	defaultMaxReconnect = 60
)

// Config represents NATS reporter configuration.
type Config struct {
	URL     string `mapstructure:"url"`     // optional, default nats://127.0.0.1:4222
	Subject string `mapstructure:"subject"` // required
	// ShardSubjects appends the combined flow hash modulo ShardSubjects to
	// the subject, e.g. "festats.vectors.3", so consumers can split load
	// by flow.
	ShardSubjects int           `mapstructure:"shard_subjects"`
	Format        string        `mapstructure:"format"` // json|protobuf, default json
	ClientName    string        `mapstructure:"client_name"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// conn is the part of *nats.Conn the reporter uses.
type conn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Reporter publishes one message per vector.
type Reporter struct {
	config Config
	format encode.Format
	nc     conn

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// New creates a new NATS reporter.
func New() reporter.Reporter {
	return &Reporter{
		config: Config{
			URL:           defaultURL,
			ClientName:    "festats",
			FlushTimeout:  defaultFlushTimeout,
			MaxReconnects: defaultMaxReconnect,
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
	if r.config.Subject == "" {
		return fmt.Errorf("%w: nats reporter requires subject", core.ErrConfigInvalid)
	}
	if strings.ContainsAny(r.config.Subject, " \t*>") {
		return fmt.Errorf("%w: invalid publish subject %q", core.ErrConfigInvalid, r.config.Subject)
	}
	if r.config.ShardSubjects < 0 {
		return fmt.Errorf("%w: shard_subjects must be >= 0", core.ErrConfigInvalid)
	}
	format, err := encode.ParseFormat(r.config.Format)
	if err != nil {
		return err
	}
	r.format = format
	return nil
}

// Start connects to the server.
func (r *Reporter) Start(ctx context.Context) error {
	if r.nc != nil {
		return nil
	}
	nc, err := nats.Connect(r.config.URL,
		nats.Name(r.config.ClientName),
		nats.MaxReconnects(r.config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", r.config.URL, err)
	}
	r.nc = nc
	slog.Info("nats reporter started", "url", r.config.URL, "subject", r.config.Subject, "format", r.format)
	return nil
}

// Stop drains the connection.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.nc == nil {
		return nil
	}
	err := r.nc.Drain()
	r.nc = nil
	slog.Info("nats reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load())
	return err
}

// Report publishes vec.
func (r *Reporter) Report(ctx context.Context, vec *core.FeatureVector) error {
	if vec == nil {
		return fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}
	if r.nc == nil {
		return fmt.Errorf("nats reporter not started")
	}
	data, err := encode.Marshal(r.format, vec)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize vector failed: %w", err)
	}
	if err := r.nc.Publish(r.subject(vec), data); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("nats publish failed: %w", err)
	}
	r.reportedCount.Add(1)
	return nil
}

func (r *Reporter) subject(vec *core.FeatureVector) string {
	if r.config.ShardSubjects == 0 {
		return r.config.Subject
	}
	shard := uint32(vec.FlowHash) % uint32(r.config.ShardSubjects)
	return r.config.Subject + "." + strconv.FormatUint(uint64(shard), 10)
}

// Flush waits for the server to acknowledge everything published so far.
func (r *Reporter) Flush(ctx context.Context) error {
	if r.nc == nil {
		return nil
	}
	return r.nc.FlushTimeout(r.config.FlushTimeout)
}
