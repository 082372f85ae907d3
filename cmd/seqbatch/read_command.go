package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/seqbatch"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/metrics/prom"
)

type readOptions struct {
	epochs      int
	minibatch   int
	epochSize   int
	rank        int
	workers     int
	metricsAddr string
	asJSON      bool
}

type epochReport struct {
	Epoch       int           `json:"epoch"`
	Minibatches int           `json:"minibatches"`
	Samples     int           `json:"samples"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration_ns"`
}

type readReport struct {
	ReaderID          string        `json:"reader_id"`
	Epochs            []epochReport `json:"epochs"`
	Paging            metrics.Stats `json:"paging"`
	PeakResidentBytes int64         `json:"peak_resident_bytes"`
	ReadBytes         int64         `json:"read_bytes"`
}

// runEpochs reads opts.epochs epochs from r and reports per-epoch totals.
func runEpochs(ctx context.Context, r *seqbatch.Reader, opts readOptions) ([]epochReport, error) {
	var reports []epochReport
	for e := range opts.epochs {
		cfg := r.EpochConfig(e)
		if opts.minibatch > 0 {
			cfg.MinibatchSizeInSamples = opts.minibatch
		}
		if opts.epochSize > 0 {
			cfg.TotalEpochSizeInSamples = opts.epochSize
		}
		cfg.WorkerRank = opts.rank
		cfg.NumberOfWorkers = max(opts.workers, 1)

		if err := r.StartEpoch(cfg); err != nil {
			return reports, err
		}

		rep := epochReport{Epoch: e}
		start := time.Now()
		for {
			mb, err := r.ReadMinibatch(ctx)
			if err != nil {
				return reports, fmt.Errorf("epoch %d: %w", e, err)
			}
			if !mb.Empty() {
				rep.Minibatches++
				rep.Samples += mb.Streams[0].Layout.NumSequences
				for _, s := range mb.Streams {
					rep.Bytes += int64(len(s.Data))
				}
			}
			if mb.EndOfEpoch {
				break
			}
		}
		rep.Duration = time.Since(start)
		reports = append(reports, rep)
	}
	return reports, nil
}

func renderEpochs(w io.Writer, reports []epochReport, paging metrics.Stats, stats seqbatch.Stats) {
	rows := make([][]string, 0, len(reports))
	for _, rep := range reports {
		rate := "-"
		if secs := rep.Duration.Seconds(); secs > 0 {
			rate = humanize.Comma(int64(float64(rep.Samples) / secs))
		}
		rows = append(rows, []string{
			strconv.Itoa(rep.Epoch),
			humanize.Comma(int64(rep.Minibatches)),
			humanize.Comma(int64(rep.Samples)),
			humanize.IBytes(uint64(rep.Bytes)),
			rep.Duration.Round(time.Millisecond).String(),
			rate,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Epoch", "Minibatches", "Samples", "Bytes", "Duration", "Samples/s"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintf(w, "Page-ins: %s (%s, %s retries, %s errors), page-outs: %s, cache hits: %s, spill hits: %s\n",
		humanize.Comma(paging.PageIns),
		humanize.IBytes(uint64(paging.PageInBytes)),
		humanize.Comma(paging.PageInRetries),
		humanize.Comma(paging.PageInErrors),
		humanize.Comma(paging.PageOuts),
		humanize.Comma(paging.CacheHits),
		humanize.Comma(paging.SpillHits),
	)
	fmt.Fprintf(w, "Peak resident: %s, read: %s\n", humanize.IBytes(uint64(stats.PeakResidentBytes)), humanize.IBytes(uint64(stats.ReadBytes)))
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func newReadCommand(ctx *commandContext) *cobra.Command {
	var opts readOptions

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read epochs of minibatches and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.epochs <= 0 {
				return fmt.Errorf("--epochs must be positive")
			}
			if opts.workers <= 0 || opts.rank < 0 || opts.rank >= opts.workers {
				return fmt.Errorf("--rank %d is not a worker of %d", opts.rank, opts.workers)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			basic := &metrics.Basic{}
			collector := metrics.Collector(basic)
			if opts.metricsAddr != "" {
				reg := prometheus.NewRegistry()
				collector = metrics.Tee{basic, prom.New(reg)}
				stop, err := serveMetrics(cmd.Context(), opts.metricsAddr, reg)
				if err != nil {
					return err
				}
				defer stop()
			}

			r, err := seqbatch.Open(cmd.Context(), *cfg, seqbatch.WithMetrics(collector))
			if err != nil {
				return err
			}
			defer r.Close()

			reports, err := runEpochs(cmd.Context(), r, opts)
			if err != nil {
				return err
			}

			stats := r.Stats()
			if opts.asJSON {
				return writeJSON(cmd, readReport{
					ReaderID:          r.ID(),
					Epochs:            reports,
					Paging:            basic.Stats(),
					PeakResidentBytes: stats.PeakResidentBytes,
					ReadBytes:         stats.ReadBytes,
				})
			}
			renderEpochs(cmd.OutOrStdout(), reports, basic.Stats(), stats)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.epochs, "epochs", 1, "Number of epochs to read")
	cmd.Flags().IntVar(&opts.minibatch, "minibatch", 0, "Minibatch size in samples (default from config)")
	cmd.Flags().IntVar(&opts.epochSize, "epoch-size", 0, "Epoch size in samples (default from config, 0 = one sweep)")
	cmd.Flags().IntVar(&opts.rank, "rank", 0, "Worker rank")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Number of workers")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Write the report as JSON")
	return cmd
}
