// Package partition splits a chain across participants in contiguous, rank ordered segments.
package partition

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalid is returned for a non-positive chain length or participant count.
	ErrInvalid = errors.New("invalid partition")
	// ErrDegenerate is returned when some participant would own no amplitude.
	ErrDegenerate = errors.New("chain shorter than participant count")
)

// Neighbor is the rank of an adjacent participant, or NoNeighbor at a chain end.
type Neighbor int

// NoNeighbor marks a chain boundary. It takes part in no exchange.
const NoNeighbor Neighbor = -1

func (nb Neighbor) Exists() bool { return nb >= 0 }

// Plan assigns N amplitudes to P participants. The first N%P ranks own one extra amplitude.
type Plan struct {
	N int
	P int
}

func New(n, p int) (Plan, error) {
	if n < 1 || p < 1 {
		return Plan{}, errors.Wrapf(ErrInvalid, "n %d p %d", n, p)
	}
	if n < p {
		return Plan{}, errors.Wrapf(ErrDegenerate, "n %d p %d", n, p)
	}
	return Plan{N: n, P: p}, nil
}

func (pl Plan) Base() int      { return pl.N / pl.P }
func (pl Plan) Remainder() int { return pl.N % pl.P }

// LocalLength returns the number of amplitudes owned by rank.
func (pl Plan) LocalLength(rank int) int {
	if rank < pl.Remainder() {
		return pl.Base() + 1
	}
	return pl.Base()
}

// Offset returns the global index of rank's first amplitude.
func (pl Plan) Offset(rank int) int {
	return rank*pl.Base() + min(rank, pl.Remainder())
}

// Sizes returns the local length of every rank, in rank order.
func (pl Plan) Sizes() []int {
	sizes := make([]int, pl.P)
	for rank := range sizes {
		sizes[rank] = pl.LocalLength(rank)
	}
	return sizes
}

// Neighbors returns the left and right neighbors of rank in the linear chain.
func (pl Plan) Neighbors(rank int) (left, right Neighbor) {
	left, right = NoNeighbor, NoNeighbor
	if rank > 0 {
		left = Neighbor(rank - 1)
	}
	if rank < pl.P-1 {
		right = Neighbor(rank + 1)
	}
	return left, right
}
