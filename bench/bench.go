// Package bench compares the single-process evaluator against decomposed runs over a grid of
// chain lengths and participant counts.
//
// Each N gets a serial time, the median over repeats. Each participant count P then gets a
// parallel time, the median over repeats of the slowest rank's time, and a speedup
// serial/parallel.
package bench

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	serialRegexp   = regexp.MustCompile(`Serial runtime:\s*([\d.]+)\s*s`)
	rankRegexp     = regexp.MustCompile(`Rank\s+\d+\s*\|\s*time\s*=\s*([\d.]+)\s*s`)
	fallbackRegexp = regexp.MustCompile(`([\d.]+)\s*s`)
)

// Row is the result for one chain length and participant count.
type Row struct {
	Session  string
	N        int
	Procs    int
	Steps    int
	Serial   float64
	Parallel float64
	Speedup  float64
}

// Config is the benchmark grid.
type Config struct {
	Sizes   []int
	Procs   []int
	Repeats int
	// Steps is recorded with each row, it does not change what the runner executes.
	Steps int
}

// Runner times one run of each evaluator, in seconds.
type Runner interface {
	Serial(ctx context.Context, n int) (float64, error)
	// Parallel returns the time reported by each rank.
	Parallel(ctx context.Context, n, p int) ([]float64, error)
}

type Bench struct {
	cfg     Config
	runner  Runner
	store   *Store
	log     zerolog.Logger
	session string
}

// New returns a benchmark with a fresh session id. store may be nil.
func New(cfg Config, runner Runner, store *Store, log zerolog.Logger) *Bench {
	return &Bench{cfg: cfg, runner: runner, store: store, log: log, session: uuid.NewString()}
}

func (b *Bench) Session() string { return b.session }

// Run sweeps the grid. Failed or unparseable runs are skipped, and a participant count
// without any successful run produces no row.
func (b *Bench) Run(ctx context.Context) ([]Row, error) {
	if b.cfg.Repeats < 1 {
		return nil, errors.Errorf("repeats %d", b.cfg.Repeats)
	}

	rows := make([]Row, 0)
	for _, n := range b.cfg.Sizes {
		log := b.log.With().Int("n", n).Logger()

		serialTimes := make([]float64, 0, b.cfg.Repeats)
		for range b.cfg.Repeats {
			sec, err := b.runner.Serial(ctx, n)
			if err != nil {
				if ctx.Err() != nil {
					return nil, errors.Wrap(err, "")
				}
				log.Warn().Stack().Err(err).Msg("serial run")
				continue
			}
			serialTimes = append(serialTimes, sec)
		}
		if len(serialTimes) == 0 {
			log.Warn().Msg("skipping, no serial timing")
			continue
		}
		serial := Median(serialTimes)
		log.Info().Float64("serial", serial).Msg("serial median")

		for _, p := range b.cfg.Procs {
			trials := make([]float64, 0, b.cfg.Repeats)
			for range b.cfg.Repeats {
				times, err := b.runner.Parallel(ctx, n, p)
				if err != nil {
					if ctx.Err() != nil {
						return nil, errors.Wrap(err, "")
					}
					log.Warn().Stack().Err(err).Int("p", p).Msg("parallel run")
					continue
				}
				if len(times) == 0 {
					log.Warn().Int("p", p).Msg("no timing detected")
					continue
				}
				// A decomposed run lasts as long as its slowest rank.
				trials = append(trials, floats.Max(times))
			}
			if len(trials) == 0 {
				log.Warn().Int("p", p).Msg("skipping, no data")
				continue
			}

			parallel := Median(trials)
			row := Row{Session: b.session, N: n, Procs: p, Steps: b.cfg.Steps, Serial: serial, Parallel: parallel}
			if parallel > 0 {
				row.Speedup = serial / parallel
			}
			log.Info().Int("p", p).Float64("parallel", row.Parallel).Float64("speedup", row.Speedup).Msg("parallel median")

			if b.store != nil {
				if err := b.store.Insert(ctx, row); err != nil {
					return nil, errors.Wrap(err, "")
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Median returns the median of xs, the mean of the two middle values for even lengths.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return stat.Mean(sorted[mid-1:mid+1], nil)
}

// FilterProcs keeps the participant counts not exceeding limit.
func FilterProcs(procs []int, limit int) []int {
	res := make([]int, 0, len(procs))
	for _, p := range procs {
		if p >= 1 && p <= limit {
			res = append(res, p)
		}
	}
	return res
}

// ParseSerial extracts the serial runtime from an evaluator's output.
// Without a runtime line, the last number followed by "s" is used.
func ParseSerial(out string) (float64, bool) {
	if m := serialRegexp.FindAllStringSubmatch(out, -1); len(m) > 0 {
		return parseFloat(m[len(m)-1][1])
	}
	if m := fallbackRegexp.FindAllStringSubmatch(out, -1); len(m) > 0 {
		return parseFloat(m[len(m)-1][1])
	}
	return 0, false
}

// ParseParallel extracts every rank's time from a launch's output.
func ParseParallel(out string) []float64 {
	times := make([]float64, 0)
	for _, m := range rankRegexp.FindAllStringSubmatch(out, -1) {
		if v, ok := parseFloat(m[1]); ok {
			times = append(times, v)
		}
	}
	return times
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExecRunner runs the evaluator binary Exe as a subprocess.
type ExecRunner struct {
	Exe     string
	Timeout time.Duration
	// Env is appended to the current environment.
	Env []string
}

func (r ExecRunner) Serial(ctx context.Context, n int) (float64, error) {
	out, err := r.output(ctx, "serial", strconv.Itoa(n))
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	sec, ok := ParseSerial(out)
	if !ok {
		return 0, errors.Errorf("no serial runtime in %q", out)
	}
	return sec, nil
}

func (r ExecRunner) Parallel(ctx context.Context, n, p int) ([]float64, error) {
	out, err := r.output(ctx, "launch", "-n", strconv.Itoa(p), strconv.Itoa(n))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ParseParallel(out), nil
}

func (r ExecRunner) output(ctx context.Context, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.Exe, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrap(err, fmt.Sprintf("%v: %s", args, tail(stderr.Bytes(), 512)))
	}
	return stdout.String(), nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
