package partition

import (
	"fmt"
	"slices"
	"testing"

	"github.com/pkg/errors"
)

func TestSizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n     int
		p     int
		sizes []int
	}{
		{n: 10, p: 3, sizes: []int{4, 3, 3}},
		{n: 4, p: 2, sizes: []int{2, 2}},
		{n: 4, p: 1, sizes: []int{4}},
		{n: 7, p: 7, sizes: []int{1, 1, 1, 1, 1, 1, 1}},
		{n: 11, p: 4, sizes: []int{3, 3, 3, 2}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.n, test.p), func(t *testing.T) {
			t.Parallel()
			pl, err := New(test.n, test.p)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if sizes := pl.Sizes(); !slices.Equal(sizes, test.sizes) {
				t.Fatalf("%v, expected %v", sizes, test.sizes)
			}
		})
	}
}

func TestCompleteness(t *testing.T) {
	t.Parallel()
	for n := 1; n <= 64; n++ {
		for p := 1; p <= n; p++ {
			pl, err := New(n, p)
			if err != nil {
				t.Fatalf("%d %d %+v", n, p, err)
			}

			sizes := pl.Sizes()
			var sum int
			for rank, l := range sizes {
				if pl.Offset(rank) != sum {
					t.Fatalf("%d %d rank %d: offset %d, expected %d", n, p, rank, pl.Offset(rank), sum)
				}
				sum += l
			}
			if sum != n {
				t.Fatalf("%d %d: %d, expected %d", n, p, sum, n)
			}
			if slices.Max(sizes)-slices.Min(sizes) > 1 {
				t.Fatalf("%d %d: %v", n, p, sizes)
			}
			if slices.Min(sizes) == 0 {
				t.Fatalf("%d %d: %v", n, p, sizes)
			}
		}
	}
}

func TestNeighbors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p     int
		rank  int
		left  Neighbor
		right Neighbor
	}{
		{p: 1, rank: 0, left: NoNeighbor, right: NoNeighbor},
		{p: 3, rank: 0, left: NoNeighbor, right: 1},
		{p: 3, rank: 1, left: 0, right: 2},
		{p: 3, rank: 2, left: 1, right: NoNeighbor},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.p, test.rank), func(t *testing.T) {
			t.Parallel()
			pl, err := New(10, test.p)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			left, right := pl.Neighbors(test.rank)
			if left != test.left || right != test.right {
				t.Fatalf("%d %d, expected %d %d", left, right, test.left, test.right)
			}
			if left.Exists() != (test.rank > 0) {
				t.Fatalf("%d", left)
			}
		})
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n   int
		p   int
		err error
	}{
		{n: 0, p: 1, err: ErrInvalid},
		{n: 4, p: 0, err: ErrInvalid},
		{n: -3, p: 2, err: ErrInvalid},
		{n: 2, p: 3, err: ErrDegenerate},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.n, test.p), func(t *testing.T) {
			t.Parallel()
			_, err := New(test.n, test.p)
			if errors.Cause(err) != test.err {
				t.Fatalf("%v, expected %v", err, test.err)
			}
		})
	}
}
