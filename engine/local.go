package engine

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/qchain"
	"github.com/fumin/qchain/comm"
)

// Result is the outcome of a run with several in-process participants.
type Result struct {
	// Segments are the final segments in rank order.
	Segments [][]complex128
	// Times are the step loop durations in rank order.
	Times []time.Duration
}

// Chain concatenates the segments in rank order.
func (r Result) Chain() []complex128 {
	return slices.Concat(r.Segments...)
}

// RunLocal evolves a chain of n amplitudes with p goroutine participants over comm.NewWorld.
// A failing participant cancels the others.
func RunLocal(ctx context.Context, params qchain.Params, n, p int, options ...Options) (Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if p < 1 {
		return Result{}, errors.Errorf("%d participants", p)
	}

	eps := comm.NewWorld(p)
	defer func() {
		for _, ep := range eps {
			ep.Close()
		}
	}()

	res := Result{Segments: make([][]complex128, p), Times: make([]time.Duration, p)}
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range eps {
		g.Go(func() error {
			rank := ep.Rank()
			o := opt.Logger(opt.log.With().Int("rank", rank).Int("size", p).Logger())
			e, err := New(ep, params, n, o)
			if err != nil {
				return errors.Wrapf(err, "rank %d", rank)
			}
			d, err := e.Run(gctx)
			if err != nil {
				return errors.Wrapf(err, "rank %d", rank)
			}
			res.Segments[rank] = e.Segment()
			res.Times[rank] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	return res, nil
}
