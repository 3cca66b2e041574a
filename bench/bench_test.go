package bench

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func TestMedian(t *testing.T) {
	t.Parallel()
	tests := []struct {
		xs []float64
		m  float64
	}{
		{xs: []float64{3, 1, 2}, m: 2},
		{xs: []float64{4, 1, 3, 2}, m: 2.5},
		{xs: []float64{7}, m: 7},
		{xs: nil, m: 0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.xs), func(t *testing.T) {
			t.Parallel()
			in := slices.Clone(test.xs)
			if m := Median(test.xs); m != test.m {
				t.Fatalf("%f, expected %f", m, test.m)
			}
			if !slices.Equal(in, test.xs) {
				t.Fatalf("input modified %v", test.xs)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	if v, ok := ParseSerial("Serial runtime: 0.012500000 s\n"); !ok || v != 0.0125 {
		t.Fatalf("%f %t", v, ok)
	}
	if v, ok := ParseSerial("took 1.5 s\n"); !ok || v != 1.5 {
		t.Fatalf("%f %t", v, ok)
	}
	if _, ok := ParseSerial("nothing here"); ok {
		t.Fatalf("expected no match")
	}

	out := "Rank 1 | time = 0.2 s\nRank 0 | time = 0.25 s\nnoise\nRank 2 | time = 0.1 s\n"
	if times := ParseParallel(out); !slices.Equal(times, []float64{0.2, 0.25, 0.1}) {
		t.Fatalf("%v", times)
	}
}

func TestFilterProcs(t *testing.T) {
	t.Parallel()
	got := FilterProcs([]int{0, 1, 2, 4, 6, 8, 10, 12}, 6)
	if !slices.Equal(got, []int{1, 2, 4, 6}) {
		t.Fatalf("%v", got)
	}
}

type fakeRunner struct {
	serial   map[int][]float64
	parallel map[[2]int][][]float64
}

func (r *fakeRunner) Serial(ctx context.Context, n int) (float64, error) {
	ts := r.serial[n]
	if len(ts) == 0 {
		return 0, errors.New("crashed")
	}
	r.serial[n] = ts[1:]
	return ts[0], nil
}

func (r *fakeRunner) Parallel(ctx context.Context, n, p int) ([]float64, error) {
	k := [2]int{n, p}
	trials := r.parallel[k]
	if len(trials) == 0 {
		return nil, errors.New("crashed")
	}
	r.parallel[k] = trials[1:]
	return trials[0], nil
}

func TestRun(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	store, err := OpenStore(filepath.Join(dir, "bench.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer store.Close()

	runner := &fakeRunner{
		serial: map[int][]float64{
			64:  {4, 2, 3},
			128: {},
		},
		parallel: map[[2]int][][]float64{
			{64, 1}: {{3}, {3.5}, {2.5}},
			// The slowest rank counts, and an empty output is skipped.
			{64, 2}: {{1, 2}, {}, {1.5, 0.5}},
		},
	}
	cfg := Config{Sizes: []int{64, 128}, Procs: []int{1, 2, 4}, Repeats: 3, Steps: 1000}
	b := New(cfg, runner, store, zerolog.Nop())
	rows, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}

	expected := []Row{
		{Session: b.Session(), N: 64, Procs: 1, Steps: 1000, Serial: 3, Parallel: 3, Speedup: 1},
		{Session: b.Session(), N: 64, Procs: 2, Steps: 1000, Serial: 3, Parallel: 1.75, Speedup: 3 / 1.75},
	}
	if diff := cmp.Diff(expected, rows, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("-expected +got\n%s", diff)
	}

	stored, err := store.Rows(context.Background(), b.Session())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(expected, stored, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("-expected +stored\n%s", diff)
	}
}

func TestStoreReplace(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	store, err := OpenStore(filepath.Join(dir, "bench.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rows := []Row{
		{Session: "a", N: 8, Procs: 2, Serial: 1, Parallel: 1, Speedup: 1},
		{Session: "a", N: 8, Procs: 2, Serial: 2, Parallel: 1, Speedup: 2},
		{Session: "a", N: 4, Procs: 1, Serial: 1, Parallel: 2, Speedup: 0.5},
		{Session: "b", N: 4, Procs: 1, Serial: 9, Parallel: 9, Speedup: 1},
	}
	for _, r := range rows {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	got, err := store.Rows(ctx, "a")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]Row{rows[2], rows[1]}, got); diff != "" {
		t.Fatalf("-expected +got\n%s", diff)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rows := []Row{{N: 1024, Procs: 2, Serial: 0.5, Parallel: 0.25, Speedup: 2}}
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("%+v", err)
	}
	expected := "N,procs,serial_time_s,parallel_time_s,speedup\n1024,2,0.5,0.25,2\n"
	if buf.String() != expected {
		t.Fatalf("%q, expected %q", buf.String(), expected)
	}
}
