// Command explorer-stress drives a randomized, multi-fence workload through an
// explorer.Executor, verifying that every accepted task runs exactly once,
// that tasks sharing a fence never overlap, and that they run in publish
// order, then prints the executor's stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/go-explorer"
	"github.com/joeycumines/go-explorer/explorerprom"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

type flags struct {
	config    string
	policy    string
	logLevel  string
	listen    string
	tracks    int
	capacity  int
	producers int
	tasks     int
	fences    int
	maxFences int
	work      time.Duration
	timeout   time.Duration
	metrics   bool

	// metricsSet is whether --metrics was passed, so it overrides the config
	metricsSet bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          `explorer-stress`,
		Short:        `Stress test a fence-serialized executor`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.metricsSet = cmd.Flags().Changed(`metrics`)
			return run(cmd.Context(), stdout, stderr, &f)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.config, `config`, ``, `executor config file (.yaml, .yml, or .toml), flags override it`)
	fs.StringVar(&f.policy, `policy`, ``, `rejection policy: abort, block, or local (default from config, or abort)`)
	fs.StringVar(&f.logLevel, `log-level`, `info`, `log level: debug, info, warning, err, or disabled`)
	fs.StringVar(&f.listen, `listen`, ``, `serve prometheus metrics on this address, e.g. :9090`)
	fs.IntVar(&f.tracks, `tracks`, 0, `number of tracks (default GOMAXPROCS)`)
	fs.IntVar(&f.capacity, `capacity`, 0, `bus capacity (default 1024)`)
	fs.IntVar(&f.producers, `producers`, 8, `concurrent producers`)
	fs.IntVar(&f.tasks, `tasks`, 100000, `tasks per producer`)
	fs.IntVar(&f.fences, `fences`, 1024, `size of the fence key space`)
	fs.IntVar(&f.maxFences, `max-fences`, 3, `maximum fences per task`)
	fs.DurationVar(&f.work, `work`, 0, `simulated work per task`)
	fs.DurationVar(&f.timeout, `timeout`, time.Minute, `graceful shutdown timeout`)
	fs.BoolVar(&f.metrics, `metrics`, true, `record task latency quantiles (default from config, if set)`)
	return cmd
}

func newLogger(w io.Writer, level string) (*logiface.Logger[logiface.Event], error) {
	var lvl logiface.Level
	switch level {
	case `disabled`:
		lvl = logiface.LevelDisabled
	case `err`, `error`:
		lvl = logiface.LevelError
	case `warning`, `warn`:
		lvl = logiface.LevelWarning
	case `info`:
		lvl = logiface.LevelInformational
	case `debug`:
		lvl = logiface.LevelDebug
	default:
		return nil, fmt.Errorf(`unknown log level %q`, level)
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(lvl),
	).Logger(), nil
}

func run(ctx context.Context, stdout, stderr io.Writer, f *flags) error {
	logger, err := newLogger(stderr, f.logLevel)
	if err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Logf(format, args...)
	}))
	defer undo()
	if err != nil {
		logger.Warning().Err(err).Log(`failed to set GOMAXPROCS`)
	}

	opts, err := executorOptions(f)
	if err != nil {
		return err
	}
	opts = append(opts, explorer.WithLogger(logger))

	x, err := explorer.New(opts...)
	if err != nil {
		return err
	}

	if f.listen != `` {
		shutdown, err := serveMetrics(f.listen, x, logger)
		if err != nil {
			_ = x.Close()
			return err
		}
		defer shutdown()
	}

	w := newWorkload(x, f)
	runErr := w.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := x.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf(`shutdown: %w`, err))
	}

	report := w.verify()
	printStats(stdout, x.Stats(), report)

	return errors.Join(runErr, report.err())
}

func executorOptions(f *flags) ([]explorer.Option, error) {
	var opts []explorer.Option
	if f.config != `` {
		c, err := explorer.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		if opts, err = c.Options(); err != nil {
			return nil, err
		}
	}
	if f.tracks != 0 {
		opts = append(opts, explorer.WithTracks(f.tracks))
	}
	if f.capacity != 0 {
		opts = append(opts, explorer.WithCapacity(f.capacity))
	}
	if f.metricsSet || f.config == `` {
		opts = append(opts, explorer.WithMetrics(f.metrics))
	}
	switch f.policy {
	case ``:
	case `abort`:
		opts = append(opts, explorer.WithRejectionHandler(explorer.AbortPolicy{}))
	case `block`:
		opts = append(opts, explorer.WithRejectionHandler(explorer.BlockPolicy{}))
	case `local`:
		opts = append(opts, explorer.WithRejectionHandler(explorer.LocalPolicy{}))
	default:
		return nil, fmt.Errorf(`unknown rejection policy %q`, f.policy)
	}
	return opts, nil
}

func serveMetrics(addr string, x *explorer.Executor, logger *logiface.Logger[logiface.Event]) (func(), error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(explorerprom.NewCollector(x)); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(`/metrics`, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen(`tcp`, addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Err().Err(err).Log(`metrics server failed`)
		}
	}()
	logger.Info().Str(`addr`, ln.Addr().String()).Log(`serving metrics`)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printStats(w io.Writer, s explorer.Stats, r report) {
	fmt.Fprintf(w, "executor %s: state=%s capacity=%d published=%d rejected=%d completed=%d\n",
		s.ID, s.State, s.Capacity, s.Published, s.Rejected, s.Completed())
	fmt.Fprintf(w, "workload: accepted=%d refused=%d ran=%d duplicates=%d missing=%d overlaps=%d out_of_order=%d\n",
		r.accepted, r.refused, r.ran, r.duplicates, r.missing, r.overlaps, r.outOfOrder)
	for _, t := range s.Tracks {
		fmt.Fprintf(w, "track %2d: completed=%d inline=%d parks=%d panics=%d stalls=%d p50=%s p99=%s max=%s\n",
			t.Track, t.Completed, t.Inline, t.Parks, t.Panics, t.Stalls, t.Latency.P50, t.Latency.P99, t.Latency.Max)
	}
}
