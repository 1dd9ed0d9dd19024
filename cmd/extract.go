package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/festats/internal/config"
	"firestige.xyz/festats/internal/core"
	"firestige.xyz/festats/internal/engine"
	"firestige.xyz/festats/internal/log"
	"firestige.xyz/festats/internal/metrics"
	"firestige.xyz/festats/internal/netstat"
	"firestige.xyz/festats/internal/reporter"
	_ "firestige.xyz/festats/internal/reporter/builtin"
	"firestige.xyz/festats/internal/source"
)

var (
	pcapPath  string
	ifaceName string
	labels    map[string]string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract feature vectors from a capture file or a live interface",
	Long: `Run the extraction engine until the source is exhausted or the process
receives SIGINT/SIGTERM, then print a summary.

Examples:
  festats extract --pcap trace.pcap                  # default config, console output
  festats extract -c festats.yml --pcap trace.pcap   # reporters from festats.yml
  festats extract -c festats.yml --iface eth0        # live capture over AF_PACKET`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := applySourceFlags(&cfg.Source); err != nil {
			return err
		}
		if err := log.Init(cfg.Log); err != nil {
			return err
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runExtract(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	extractCmd.Flags().StringVar(&pcapPath, "pcap", "", "read packets from this pcap or pcapng file")
	extractCmd.Flags().StringVar(&ifaceName, "iface", "", "capture live from this interface with AF_PACKET")
	extractCmd.Flags().StringToStringVar(&labels, "label", nil, "extra label attached to every vector, key=value")
	extractCmd.MarkFlagsMutuallyExclusive("pcap", "iface")
}

// applySourceFlags lets --pcap and --iface override the configured source.
func applySourceFlags(sc *config.SourceConfig) error {
	switch {
	case pcapPath != "":
		sc.Type = "pcap"
		sc.Path = pcapPath
	case ifaceName != "":
		sc.Type = "afpacket"
		sc.Interface = ifaceName
	}
	if sc.Type == "pcap" && sc.Path == "" {
		return fmt.Errorf("%w: no pcap file, set source.path or pass --pcap", core.ErrConfigInvalid)
	}
	return nil
}

func runExtract(ctx context.Context, cfg *config.GlobalConfig, out io.Writer) error {
	x, err := netstat.New(netstat.Config{
		Lambdas:          cfg.Engine.ParsedLambdas(),
		MeasurementScale: cfg.Engine.MeasurementScale,
		Resync:           cfg.Engine.RegressionPolicy == "resync",
		MaxEntries:       cfg.Engine.Table.MaxEntries,
		IdleTimeout:      cfg.Engine.Table.IdleTimeoutDuration(),
		CleanupInterval:  cfg.Engine.Table.CleanupIntervalDuration(),
	})
	if err != nil {
		return err
	}

	src, err := source.New(cfg.Source)
	if err != nil {
		return err
	}

	reporters, err := buildReporters(cfg.Reporters, x.FeatureNames())
	if err != nil {
		return err
	}

	vecLabels := core.Labels(labels).Clone()
	if vecLabels == nil {
		vecLabels = core.Labels{}
	}
	if cfg.Source.Type == "pcap" {
		vecLabels[core.LabelInterface] = cfg.Source.Path
	} else {
		vecLabels[core.LabelInterface] = cfg.Source.Interface
	}

	eng, err := engine.New(engine.Config{
		Source:        src,
		Extractor:     x,
		Reporters:     reporters,
		Workers:       cfg.Engine.Workers,
		Dispatch:      cfg.Engine.Dispatch,
		QueueCapacity: cfg.Engine.QueueCapacity,
		Blocking:      source.Offline(cfg.Source),
		Labels:        vecLabels,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		srv.HandleDebug("engine", func() any { return eng.Stats() })
		srv.HandleDebug("tables", func() any { return x.Stats() })
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				slog.Warn("metrics server stop failed", "error", err)
			}
		}()
	}

	start := time.Now()
	runErr := eng.Run(ctx)
	printSummary(out, eng.Stats(), x.Stats(), time.Since(start))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// buildReporters creates every configured reporter and hands feature
// names to those that want them. Nothing is started here.
func buildReporters(cfgs []config.ReporterConfig, names []string) ([]reporter.Reporter, error) {
	out := make([]reporter.Reporter, 0, len(cfgs))
	for i, rc := range cfgs {
		r, err := newReporter(rc)
		if err != nil {
			return nil, fmt.Errorf("reporters[%d]: %w", i, err)
		}
		if fa, ok := r.(reporter.FeatureNamesAware); ok {
			fa.SetFeatureNames(names)
		}
		out = append(out, r)
	}
	return out, nil
}

// newReporter creates rc's reporter, wrapped with its fallback if any.
func newReporter(rc config.ReporterConfig) (reporter.Reporter, error) {
	r, err := reporter.New(rc.Type, rc.Config)
	if err != nil {
		return nil, err
	}
	if rc.Fallback == nil {
		return r, nil
	}
	fb, err := reporter.New(rc.Fallback.Type, rc.Fallback.Config)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return reporter.WithFallback(r, fb), nil
}

func printSummary(out io.Writer, es engine.Stats, xs netstat.Stats, elapsed time.Duration) {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(es.Processed) / secs
	}
	fmt.Fprintf(out, "run %s finished in %s (%.0f pkt/s)\n", es.RunID, elapsed.Round(time.Millisecond), rate)
	fmt.Fprintf(out, "  captured %d, parsed %d, parse errors %d (truncated %d, unsupported %d)\n",
		es.Captured, es.Parsed, es.ParseErrors, es.Decoder.Truncated, es.Decoder.Unsupported)
	fmt.Fprintf(out, "  processed %d, dropped %d, overflows %d, regressions %d, table full %d\n",
		es.Processed, es.Dropped, es.Overflows, xs.Regressions, xs.TableFull)
	fmt.Fprintf(out, "  reported %d, report errors %d, interface drops %d\n",
		es.Reported, es.ReportErrors, es.Source.IfDropped)
}
