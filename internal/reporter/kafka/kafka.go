// Package kafka implements the Kafka reporter.
// Sends feature vectors to Kafka with batching, compression, and retry support.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/encode"
)

// Name is the registered reporter type.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Format       string        `mapstructure:"format"`        // optional: json|protobuf, default json
	// Async hands messages to the writer without waiting for acks; write
	// errors are then only logged.
	Async bool `mapstructure:"async"`
}

// messageWriter is the part of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reporter sends vectors to Kafka. Messages are keyed by the combined flow
// hash so a flow always lands on the same partition.
type Reporter struct {
	writer messageWriter
	config Config
	format encode.Format

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// New creates a new Kafka reporter.
func New() reporter.Reporter {
	return &Reporter{}
}

// Name returns the plugin name.
func (r *Reporter) Name() string {
	return Name
}

// Init initializes the reporter with configuration.
func (r *Reporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("%w: kafka reporter requires configuration", core.ErrConfigInvalid)
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := reporter.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: brokers is required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("%w: topic is required", core.ErrConfigInvalid)
	}
	format, err := encode.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return err
	}

	r.config = cfg
	r.format = format
	r.writer = kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{}, // Use hash balancer for consistent routing
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
		Async:            cfg.Async,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			slog.Error(fmt.Sprintf(msg, args...), "reporter", Name)
		}),
	})
	return nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	}
	return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
}

// Start starts the reporter.
func (r *Reporter) Start(ctx context.Context) error {
	slog.Info("kafka reporter started",
		"brokers", r.config.Brokers,
		"topic", r.config.Topic,
		"format", r.format,
		"batch_size", r.config.BatchSize,
		"batch_timeout", r.config.BatchTimeout,
		"compression", r.config.Compression,
	)
	return nil
}

// Stop closes the writer, which flushes pending messages.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}

	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}

// Report sends a vector to Kafka.
func (r *Reporter) Report(ctx context.Context, vec *core.FeatureVector) error {
	if vec == nil {
		return fmt.Errorf("%w: nil vector", core.ErrInvalidArgument)
	}

	msg, err := r.message(vec)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize vector failed: %w", err)
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	r.reportedCount.Add(1)
	return nil
}

func (r *Reporter) message(vec *core.FeatureVector) (kafka.Message, error) {
	value, err := encode.Marshal(r.format, vec)
	if err != nil {
		return kafka.Message{}, err
	}

	msg := kafka.Message{
		Key:   strconv.AppendUint(nil, uint64(uint32(vec.FlowHash)), 16),
		Value: value,
		Time:  vec.Timestamp,
	}

	// Labels and the content type travel as Kafka headers
	msg.Headers = make([]kafka.Header, 0, len(vec.Labels)+1)
	msg.Headers = append(msg.Headers, kafka.Header{Key: "content-type", Value: []byte(encode.ContentType(r.format))})
	for k, v := range vec.Labels {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Flush is a no-op: kafka.Writer flushes on BatchSize/BatchTimeout and on
// Close.
func (r *Reporter) Flush(ctx context.Context) error {
	return nil
}
