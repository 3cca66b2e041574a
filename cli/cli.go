// Package cli is the command tree of the evaluators. The evaluators differ only in the step
// count they pass to NewRootCmd.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/qchain"
	"github.com/fumin/qchain/bench"
	"github.com/fumin/qchain/comm"
	"github.com/fumin/qchain/config"
	"github.com/fumin/qchain/engine"
	"github.com/fumin/qchain/logger"
	"github.com/fumin/qchain/partition"
	"github.com/fumin/qchain/sysinfo"
)

// Execute runs the command line of an evaluator and returns the process exit status.
func Execute(name string, steps int) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(name, steps).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		return 1
	}
	return 0
}

type app struct {
	steps int
	cfg   config.Config
	log   zerolog.Logger
}

// NewRootCmd returns the command tree of an evaluator running steps steps.
func NewRootCmd(name string, steps int) *cobra.Command {
	a := &app{steps: steps, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           name,
		Short:         fmt.Sprintf("Evolve a chain of two-level sites for %d steps", steps),
		SilenceErrors: true,
		// Usage goes to stderr through usageError, leaving stdout to the runtime lines.
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "")
			}
			a.cfg = cfg
			a.log = logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty)
			return nil
		},
	}
	root.SetFlagErrorFunc(usageError)
	root.AddCommand(a.serialCmd(), a.parallelCmd(), a.launchCmd(), a.benchCmd())
	return root
}

func usageError(cmd *cobra.Command, err error) error {
	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	return errors.Wrap(err, "")
}

// exactArgs is cobra.ExactArgs with the usage printed on failure.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(cmd, err)
		}
		return nil
	}
}

func (a *app) params() qchain.Params {
	return qchain.NewParams(a.steps)
}

func (a *app) serialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serial N",
		Short: "Run the single-process evolution over N sites",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseN(args[0], 1)
			if err != nil {
				return errors.Wrap(err, "")
			}

			psi := qchain.NewChain(n)
			start := time.Now()
			qchain.Evolve(psi, a.params())
			elapsed := time.Since(start)

			logMemory(cmd.Context(), a.log, n)
			fmt.Fprintf(cmd.OutOrStdout(), "Serial runtime: %.9f s\n", elapsed.Seconds())
			return nil
		},
	}
}

func (a *app) parallelCmd() *cobra.Command {
	var schemeStr string
	cmd := &cobra.Command{
		Use:   "parallel N",
		Short: "Run one participant of a decomposed evolution over N sites",
		Long: fmt.Sprintf("The participant's rank and the participant count are read from %s and %s (or the Open MPI and PMI equivalents), and listening addresses from %s. Without them the participant runs alone.",
			comm.EnvRank, comm.EnvSize, comm.EnvAddrs),
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scheme, err := engine.ParseScheme(schemeStr)
			if err != nil {
				return errors.Wrap(err, "")
			}
			env, err := comm.Discover(os.LookupEnv, a.cfg.Host, a.cfg.BasePort)
			if err != nil {
				return errors.Wrap(err, "")
			}
			n, err := parseN(args[0], env.Size)
			if err != nil {
				return errors.Wrap(err, "")
			}

			log := a.log.With().Int("rank", env.Rank).Int("size", env.Size).Logger()
			ep, err := env.Connect(ctx)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer ep.Close()

			opt := engine.NewOptions().Scheme(scheme).Logger(log)
			e, err := engine.New(ep, a.params(), n, opt)
			if err != nil {
				return errors.Wrap(err, "")
			}
			elapsed, err := e.Run(ctx)
			if err != nil {
				return errors.Wrap(err, "")
			}
			// Nobody tears down a connection a neighbor may still be reading from.
			if err := ep.Barrier(ctx); err != nil {
				return errors.Wrap(err, "")
			}

			logMemory(ctx, log, len(e.Segment()))
			fmt.Fprintf(cmd.OutOrStdout(), "Rank %d | time = %.9f s\n", env.Rank, elapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().StringVar(&schemeStr, "scheme", engine.SchemeExact.String(), "boundary exchange scheme, exact or halo")
	return cmd
}

func (a *app) launchCmd() *cobra.Command {
	var np int
	var inproc bool
	var schemeStr string
	cmd := &cobra.Command{
		Use:   "launch N",
		Short: "Run a decomposed evolution over N sites with several participants",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scheme, err := engine.ParseScheme(schemeStr)
			if err != nil {
				return errors.Wrap(err, "")
			}
			n, err := parseN(args[0], np)
			if err != nil {
				return errors.Wrap(err, "")
			}

			if inproc {
				opt := engine.NewOptions().Scheme(scheme).Logger(a.log)
				res, err := engine.RunLocal(ctx, a.params(), n, np, opt)
				if err != nil {
					return errors.Wrap(err, "")
				}
				logMemory(ctx, a.log, n)
				for rank, d := range res.Times {
					fmt.Fprintf(cmd.OutOrStdout(), "Rank %d | time = %.9f s\n", rank, d.Seconds())
				}
				return nil
			}

			exe, err := os.Executable()
			if err != nil {
				return errors.Wrap(err, "")
			}
			addrs := comm.Addrs(a.cfg.Host, a.cfg.BasePort, np)
			if err := spawn(ctx, exe, addrs, []string{"parallel", "--scheme", scheme.String(), args[0]}, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
				return errors.Wrap(err, "")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&np, "np", "n", 1, "number of participants")
	cmd.Flags().BoolVar(&inproc, "inproc", false, "run participants as goroutines of this process")
	cmd.Flags().StringVar(&schemeStr, "scheme", engine.SchemeExact.String(), "boundary exchange scheme, exact or halo")
	return cmd
}

// spawn runs one child process per address with its participant identity in the environment.
// The first failing child kills the others.
func spawn(ctx context.Context, exe string, addrs []string, args []string, stdout, stderr io.Writer) error {
	out := &syncWriter{w: stdout}
	errw := &syncWriter{w: stderr}
	g, gctx := errgroup.WithContext(ctx)
	for rank := range addrs {
		env := comm.Environ{Rank: rank, Size: len(addrs), Addrs: addrs}
		cmd := exec.CommandContext(gctx, exe, args...)
		cmd.Env = append(os.Environ(), env.Vars()...)
		cmd.Stdout = out
		cmd.Stderr = errw
		g.Go(func() error {
			if err := cmd.Run(); err != nil {
				return errors.Wrapf(err, "rank %d", rank)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}

func (a *app) benchCmd() *cobra.Command {
	var sizes, procs []int
	var repeats int
	var timeout time.Duration
	var csvPath, dbPath string
	var hyperthreads bool
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare serial and decomposed runtimes over chain lengths and participant counts",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			physical, logical, err := sysinfo.Cores(ctx)
			if err != nil {
				return errors.Wrap(err, "")
			}
			limit := physical
			if hyperthreads || limit < 1 {
				limit = logical
			}
			procs = bench.FilterProcs(procs, limit)
			a.log.Info().Int("physical", physical).Int("logical", logical).Ints("procs", procs).Msg("cores")

			if dbPath == "" {
				dbPath = a.cfg.DBPath
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
				return errors.Wrap(err, "")
			}
			store, err := bench.OpenStore(dbPath)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer store.Close()

			exe, err := os.Executable()
			if err != nil {
				return errors.Wrap(err, "")
			}
			runner := bench.ExecRunner{Exe: exe, Timeout: timeout}
			cfg := bench.Config{Sizes: sizes, Procs: procs, Repeats: repeats, Steps: a.steps}
			b := bench.New(cfg, runner, store, a.log)
			rows, err := b.Run(ctx)
			if err != nil {
				return errors.Wrap(err, "")
			}

			if err := bench.WriteCSVFile(csvPath, rows); err != nil {
				return errors.Wrap(err, "")
			}
			a.log.Info().Str("session", b.Session()).Str("csv", csvPath).Str("db", dbPath).Msg("saved")
			if err := bench.WriteCSV(cmd.OutOrStdout(), rows); err != nil {
				return errors.Wrap(err, "")
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&sizes, "sizes", []int{1024, 2048, 4096, 8192, 16384}, "chain lengths")
	cmd.Flags().IntSliceVar(&procs, "procs", []int{1, 2, 4, 6, 8, 10, 12}, "participant counts, capped at the core count")
	cmd.Flags().IntVar(&repeats, "repeats", 3, "runs per measurement, the median is kept")
	cmd.Flags().DurationVar(&timeout, "timeout", 300*time.Second, "timeout of each run")
	cmd.Flags().StringVar(&csvPath, "csv", "runtimes_speedups.csv", "CSV output path")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database of results, defaults to QCHAIN_DB")
	cmd.Flags().BoolVar(&hyperthreads, "hyperthreads", false, "allow as many participants as logical cores")
	return cmd
}

// parseN parses the chain length, which must cover p participants.
func parseN(s string, p int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrap(err, "chain length")
	}
	if _, err := partition.New(n, p); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return n, nil
}

func logMemory(ctx context.Context, log zerolog.Logger, length int) {
	m, err := sysinfo.ProcessMemory(ctx)
	if err != nil {
		log.Warn().Stack().Err(err).Msg("memory")
		return
	}
	log.Info().Float64("psi_mb", qchain.SizeMB(length)).Uint64("rss_kb", m.ResidentKB).Uint64("peak_rss_kb", m.PeakKB).Msg("memory")
}
